// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/chatstream/internal/model"
)

// Configuration constants.
const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error body is kept in a RequestError.
	maxErrorBody = 64 * 1024

	userAgent = "chatstream/1.0"
)

var (
	sharedTransport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	sharedHTTPClient = &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout}

	// Streams can run for minutes; they are bounded by their context only.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Endpoint identifies an API base URL and the bearer token used with it.
type Endpoint struct {
	BaseURL string
	APIKey  string

	// ChatPath overrides the chat completion path for providers that do not
	// use the /v1 layout.
	ChatPath string
}

const defaultChatPath = "/v1/chat/completions"

func (e Endpoint) chatURL() string {
	if e.ChatPath != "" {
		return e.url(e.ChatPath)
	}
	return e.url(defaultChatPath)
}

func (e Endpoint) url(path string) string {
	base := strings.TrimRight(e.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + path
}

// ChatRequest is one chat completion call.
type ChatRequest struct {
	Endpoint
	Model        string
	SystemPrompt string
	Messages     []model.Message

	// Nil means "not set" and the field is omitted from the payload.
	Temperature *float64
	TopP        *float64

	// Zero means unbounded and is omitted.
	MaxTokens int
}

type wireMessage struct {
	Role    model.Role      `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// buildPayload prepends the system prompt and keeps only user and assistant
// history.
func buildPayload(req ChatRequest, stream bool) (*chatPayload, error) {
	p := &chatPayload{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)+1),
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = req.MaxTokens
	}

	if strings.TrimSpace(req.SystemPrompt) != "" {
		content, _ := json.Marshal(req.SystemPrompt)
		p.Messages = append(p.Messages, wireMessage{Role: model.RoleSystem, Content: content})
	}
	for _, m := range req.Messages {
		if !m.Role.IsChatRole() {
			continue
		}
		content, err := model.MarshalContent(m.Content)
		if err != nil {
			return nil, errors.Wrapf(err, "encode message %s", m.ID)
		}
		p.Messages = append(p.Messages, wireMessage{Role: m.Role, Content: content})
	}
	return p, nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client performs chat completion calls. It holds no conversation state and
// is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
	userAgent    string
	models       singleflight.Group
}

// NewClient returns a client using the shared pooled transports.
func NewClient() *Client {
	return &Client{
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		log:          zerolog.Nop(),
		userAgent:    userAgent,
	}
}

// WithHTTPClient replaces both the request and streaming HTTP clients.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithLogger sets the logger used for request and parse diagnostics.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l.With().Str("component", "cloud").Logger()
	return c
}

// WithUserAgent overrides the User-Agent header.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

func (c *Client) newRequest(ctx context.Context, method, url, apiKey string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// readResponse reads a response body up to MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if len(body) > MaxResponseSize {
		return nil, errors.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// requestError builds a RequestError from a failed response, consuming at
// most maxErrorBody bytes of its body.
func requestError(resp *http.Response) *RequestError {
	if resp.Body == nil || resp.Body == http.NoBody {
		return &RequestError{StatusCode: resp.StatusCode, Body: ErrNoBody.Error()}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RequestError{StatusCode: resp.StatusCode, Body: string(body)}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// =============================================================================
// NON-STREAMING CALLS
// =============================================================================

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs a chat completion with stream=false and returns the
// first choice's message content.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if req.APIKey == "" {
		return "", ErrNotConfigured
	}
	payload, err := buildPayload(req, false)
	if err != nil {
		return "", err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, req.chatURL(), req.APIKey, payload)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	c.log.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Str("model", req.Model).Msg("completion response")

	if !isSuccess(resp.StatusCode) {
		return "", requestError(resp)
	}
	body, err := readResponse(resp)
	if err != nil {
		return "", err
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, "parse response")
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
