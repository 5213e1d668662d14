// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs a send: it records the user turn, streams the reply
// into the conversation store and names new conversations.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/cloud"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/media"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/session"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/title"
)

const (
	// ErrorPrefix starts the text that replaces a failed reply.
	ErrorPrefix = "出现错误: "

	// MediaFailureReply is appended when an attachment cannot be read.
	MediaFailureReply = "图片处理失败，请重试。"

	titleTimeout = 30 * time.Second
)

var (
	// ErrNoAPIKey means no API key is configured.
	ErrNoAPIKey = errors.New("no API key configured")

	// ErrEmptyMessage means neither text nor an image was given.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoCompleter means a non-streaming send was requested but the
	// Service has no Completer.
	ErrNoCompleter = errors.New("non-streaming completions are not configured")
)

// Streamer opens streaming completions.
type Streamer interface {
	Stream(ctx context.Context, req cloud.ChatRequest) (*cloud.Stream, error)
}

// Completer performs non-streaming completions.
type Completer interface {
	Complete(ctx context.Context, req cloud.ChatRequest) (string, error)
}

// Titler names a conversation.
type Titler interface {
	Generate(ctx context.Context, apiKey string, conv *model.Conversation) (string, error)
}

// SettingsFunc returns the settings to use for the next send.
type SettingsFunc func(ctx context.Context) (config.Settings, error)

// SendInput is one user turn.
type SendInput struct {
	Text      string
	ImagePath string

	// NoStream requests the whole reply in one response. The placeholder
	// is filled once it arrives.
	NoStream bool
}

// Result describes a finished send.
type Result struct {
	ConversationID  string
	MessageID       string // assistant message
	NewConversation bool
	State           State
	Reply           string // concatenated deltas
	Err             error  // set when State is StateFailed
}

// Service sends messages. It is safe for concurrent use; sends on
// different conversations stream independently and a new send on a
// conversation cancels the one in progress there.
type Service struct {
	store     *storage.Store
	streamer  Streamer
	completer Completer
	titler    Titler
	sessions  *session.Manager
	settings  SettingsFunc
	baseURL   func() string
	convert   func(path string) (string, error)
	observer  Observer
	log       zerolog.Logger
	titles    sync.WaitGroup
}

// Options configures a Service. Store, Streamer and Settings are required.
type Options struct {
	Store     *storage.Store
	Streamer  Streamer
	Completer Completer // nil disables SendInput.NoStream
	Titler    Titler    // nil disables title generation
	Sessions  *session.Manager
	Settings  SettingsFunc
	BaseURL   func() string
	Observer  Observer
	Logger    zerolog.Logger
}

// NewService builds a Service.
func NewService(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		streamer:  opts.Streamer,
		completer: opts.Completer,
		titler:    opts.Titler,
		sessions:  opts.Sessions,
		settings:  opts.Settings,
		baseURL:   opts.BaseURL,
		convert:   media.FileToDataURL,
		observer:  opts.Observer,
		log:       opts.Logger.With().Str("component", "chat").Logger(),
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(opts.Logger)
	}
	if s.baseURL == nil {
		s.baseURL = func() string { return cloud.DefaultBaseURL }
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Send records input in the active conversation (creating one if needed)
// and streams the reply into it. The returned error covers only failures
// before anything was recorded; a failed stream is reported through
// Result.State and Result.Err.
func (s *Service) Send(ctx context.Context, in SendInput) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" && in.ImagePath == "" {
		return nil, ErrEmptyMessage
	}
	if in.NoStream && s.completer == nil {
		return nil, ErrNoCompleter
	}
	st, err := s.settings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	if st.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	var history []model.Message
	active, ok := s.store.ActiveConversation()
	res := &Result{NewConversation: !ok, State: StateIdle}
	if ok {
		res.ConversationID = active.ID
		history = active.Messages
	} else {
		res.ConversationID = s.store.CreateConversation()
		s.store.UpdateTitle(res.ConversationID, model.ProvisionalTitle(in.Text, in.ImagePath != ""))
	}

	content, err := s.buildContent(in)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation", res.ConversationID).Msg("attachment conversion failed")
		reply := model.NewMessage(model.RoleAssistant, model.TextContent(MediaFailureReply))
		s.store.AppendMessages(res.ConversationID, reply)
		res.MessageID = reply.ID
		res.State = StateFailed
		res.Err = err
		res.Reply = MediaFailureReply
		return res, nil
	}

	user := model.NewMessage(model.RoleUser, content)
	placeholder := model.NewAssistantPlaceholder()
	res.MessageID = placeholder.ID
	s.store.AppendMessages(res.ConversationID, user, placeholder)

	req := cloud.ChatRequest{
		Endpoint:     cloud.Endpoint{BaseURL: s.baseURL(), APIKey: st.APIKey},
		Model:        st.Model,
		SystemPrompt: st.SystemPrompt,
		Messages:     append(append([]model.Message{}, history...), user),
		Temperature:  &st.Temperature,
		TopP:         &st.TopP,
		MaxTokens:    st.MaxTokens,
	}

	if in.NoStream {
		s.complete(ctx, req, res)
	} else {
		s.stream(ctx, req, res)
	}

	if res.State == StateCompleted && res.NewConversation && st.TitleAPIKey != "" && s.titler != nil {
		s.nameConversation(res.ConversationID, st.TitleAPIKey)
	}
	return res, nil
}

func (s *Service) buildContent(in SendInput) (model.Content, error) {
	if in.ImagePath == "" {
		return model.TextContent(in.Text), nil
	}
	url, err := s.convert(in.ImagePath)
	if err != nil {
		return nil, err
	}
	if in.Text == "" {
		return model.PartsContent{model.ImagePart(url)}, nil
	}
	return model.PartsContent{model.TextPart(in.Text), model.ImagePart(url)}, nil
}

// stream drives one send through the state machine.
func (s *Service) stream(ctx context.Context, req cloud.ChatRequest, res *Result) {
	sess := s.sessions.Begin(ctx, res.ConversationID, res.MessageID)
	defer s.sessions.End(sess)

	log := s.log.With().Str("conversation", res.ConversationID).Str("session", sess.ID).Logger()
	var reply strings.Builder

	transition := func(next State) {
		res.State = next
		s.observer.OnState(res.ConversationID, next)
	}
	fail := func(err error) {
		res.Err = err
		res.Reply = reply.String()
		// A superseded send no longer owns the trailing message; the
		// id check keeps it from touching the newer one.
		s.store.AppendDeltaTo(res.ConversationID, res.MessageID, ErrorPrefix+err.Error(), true)
		log.Warn().Err(err).Bool("superseded", sess.Superseded()).Msg("stream failed")
		transition(StateFailed)
	}

	transition(StateAwaitingFirstByte)
	start := time.Now()

	stream, err := s.streamer.Stream(sess.Context(), req)
	if err != nil {
		fail(err)
		return
	}
	defer stream.Close()

	for {
		ev, ok := stream.Next()
		if !ok {
			return
		}
		switch ev.Kind {
		case cloud.EventDelta:
			if res.State == StateAwaitingFirstByte {
				log.Debug().Dur("ttft", time.Since(start)).Msg("first delta")
				transition(StateStreaming)
			}
			reply.WriteString(ev.Delta)
			s.store.AppendDeltaTo(res.ConversationID, res.MessageID, ev.Delta, false)
			s.observer.OnDelta(res.ConversationID, ev.Delta)
		case cloud.EventDone:
			res.Reply = reply.String()
			log.Debug().Dur("elapsed", time.Since(start)).Int("chars", reply.Len()).Msg("stream completed")
			transition(StateCompleted)
		case cloud.EventError:
			fail(ev.Err)
		}
	}
}

// complete drives one non-streaming send. The state goes from
// AwaitingFirstByte straight to a terminal state.
func (s *Service) complete(ctx context.Context, req cloud.ChatRequest, res *Result) {
	sess := s.sessions.Begin(ctx, res.ConversationID, res.MessageID)
	defer s.sessions.End(sess)

	log := s.log.With().Str("conversation", res.ConversationID).Str("session", sess.ID).Logger()
	transition := func(next State) {
		res.State = next
		s.observer.OnState(res.ConversationID, next)
	}

	transition(StateAwaitingFirstByte)
	start := time.Now()

	reply, err := s.completer.Complete(sess.Context(), req)
	if err != nil {
		res.Err = err
		s.store.AppendDeltaTo(res.ConversationID, res.MessageID, ErrorPrefix+err.Error(), true)
		log.Warn().Err(err).Bool("superseded", sess.Superseded()).Msg("completion failed")
		transition(StateFailed)
		return
	}
	s.store.AppendDeltaTo(res.ConversationID, res.MessageID, reply, true)
	res.Reply = reply
	s.observer.OnDelta(res.ConversationID, reply)
	log.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(reply)).Msg("completion finished")
	transition(StateCompleted)
}

// nameConversation generates a title in the background. Failures keep the
// provisional title.
func (s *Service) nameConversation(conversationID, apiKey string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		conv, err := s.store.Conversation(conversationID)
		if err != nil {
			return
		}
		name, err := s.titler.Generate(ctx, apiKey, conv)
		if err != nil {
			var authErr *title.AuthTokenError
			if errors.As(err, &authErr) {
				s.log.Warn().Err(err).Msg("title key is malformed, keeping provisional title")
			} else {
				s.log.Info().Err(err).Str("conversation", conversationID).Msg("title generation failed, keeping provisional title")
			}
			return
		}
		s.store.UpdateTitle(conversationID, name)
	}()
}

// Cancel aborts the stream running on a conversation, if any.
func (s *Service) Cancel(conversationID string) bool {
	return s.sessions.Cancel(conversationID)
}

// Close cancels all running streams and waits for pending title requests.
func (s *Service) Close() {
	s.sessions.CancelAll()
	s.titles.Wait()
}

// Wait blocks until background title requests have finished.
func (s *Service) Wait() {
	s.titles.Wait()
}
