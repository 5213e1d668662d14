// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package title names conversations with a one-shot completion from a
// secondary provider that authenticates with short-lived HS256 tokens.
package title

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatstream/internal/cloud"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

const (
	// DefaultBaseURL and DefaultChatPath locate the provider's completion
	// endpoint.
	DefaultBaseURL  = "https://open.bigmodel.cn/api/paas"
	DefaultChatPath = "/v4/chat/completions"
	DefaultModel    = "glm-4-flash"

	instruction = "请根据下面的对话内容生成一个简短的标题，不超过10个字。只返回标题本身，不要包含标点符号、引号或解释。"

	// transcriptRunes bounds each message quoted into the request.
	transcriptRunes = 500
)

// ErrNoTitle is returned when the provider answered with nothing usable.
var ErrNoTitle = errors.New("no usable title in response")

// Completer performs a non-streaming completion.
type Completer interface {
	Complete(ctx context.Context, req cloud.ChatRequest) (string, error)
}

// Target is where title requests go.
type Target struct {
	BaseURL  string
	ChatPath string
	Model    string
}

// Generator produces conversation titles.
type Generator struct {
	completer Completer
	baseURL   string
	chatPath  string
	model     string
	target    func() Target
	limiter   *rate.Limiter
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithEndpoint overrides the provider base URL and chat path.
func WithEndpoint(baseURL, chatPath string) Option {
	return func(g *Generator) {
		if baseURL != "" {
			g.baseURL = baseURL
		}
		if chatPath != "" {
			g.chatPath = chatPath
		}
	}
}

// WithModel overrides the title model.
func WithModel(name string) Option {
	return func(g *Generator) { g.model = name }
}

// WithTarget resolves the endpoint and model on every request, so a
// reloaded config takes effect without rebuilding the Generator. Empty
// fields fall back to the static values.
func WithTarget(fn func() Target) Option {
	return func(g *Generator) { g.target = fn }
}

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Generator) { g.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.log = l.With().Str("component", "title").Logger() }
}

// NewGenerator returns a Generator that sends at most one request every two
// seconds, with a burst of two.
func NewGenerator(c Completer, opts ...Option) *Generator {
	g := &Generator{
		completer: c,
		baseURL:   DefaultBaseURL,
		chatPath:  DefaultChatPath,
		model:     DefaultModel,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 2),
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the provider for a title for conv. A malformed key fails
// with *AuthTokenError before any request is made.
func (g *Generator) Generate(ctx context.Context, apiKey string, conv *model.Conversation) (string, error) {
	token, err := SignToken(apiKey, g.now())
	if err != nil {
		return "", err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "title rate limit")
	}

	target := g.resolve()
	req := cloud.ChatRequest{
		Endpoint:     cloud.Endpoint{BaseURL: target.BaseURL, APIKey: token, ChatPath: target.ChatPath},
		Model:        target.Model,
		SystemPrompt: instruction,
		Messages: []model.Message{
			model.NewMessage(model.RoleUser, model.TextContent(transcript(conv))),
		},
	}

	raw, err := g.completer.Complete(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "title request")
	}

	title := Clean(raw)
	if title == "" || title == model.DefaultTitle {
		return "", ErrNoTitle
	}
	g.log.Debug().Str("conversation", conv.ID).Str("title", title).Msg("generated title")
	return title, nil
}

func (g *Generator) resolve() Target {
	t := Target{BaseURL: g.baseURL, ChatPath: g.chatPath, Model: g.model}
	if g.target == nil {
		return t
	}
	dyn := g.target()
	if dyn.BaseURL != "" {
		t.BaseURL = dyn.BaseURL
	}
	if dyn.ChatPath != "" {
		t.ChatPath = dyn.ChatPath
	}
	if dyn.Model != "" {
		t.Model = dyn.Model
	}
	return t
}

// transcript renders the text of a conversation, one line per message.
func transcript(conv *model.Conversation) string {
	var sb strings.Builder
	for _, m := range conv.Messages {
		if !m.Role.IsChatRole() {
			continue
		}
		text := m.Text()
		if text == "" && m.Content.HasImage() {
			text = "[图片]"
		}
		if text == "" {
			continue
		}
		label := "用户"
		if m.Role == model.RoleAssistant {
			label = "助手"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(util.TruncateRunes(text, transcriptRunes, "..."))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
	{"‘", "’"},
	{"「", "」"},
	{"『", "』"},
	{"《", "》"},
}

// Clean trims whitespace and strips matching surrounding quotes, repeatedly.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := false
		for _, q := range quotePairs {
			if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
				s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}
