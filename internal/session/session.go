// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks in-flight response streams.
//
// A StreamSession ties one streaming response to the conversation and the
// assistant message it writes into. The Manager keeps at most one session
// per conversation: beginning a new one cancels the previous.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// STREAM SESSION
// =============================================================================

// StreamSession is one in-flight response.
type StreamSession struct {
	ID             string
	ConversationID string
	MessageID      string
	StartedAt      time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	superseded atomic.Bool
}

// Context is cancelled when the session is cancelled or superseded.
func (s *StreamSession) Context() context.Context {
	return s.ctx
}

// Cancel aborts the session's stream.
func (s *StreamSession) Cancel() {
	s.cancel()
}

// Superseded reports whether a newer session on the same conversation
// replaced this one.
func (s *StreamSession) Superseded() bool {
	return s.superseded.Load()
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is the registry of active sessions, keyed by conversation.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*StreamSession
	log      zerolog.Logger
}

// NewManager creates an empty registry.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*StreamSession),
		log:      logger.With().Str("component", "session").Logger(),
	}
}

// Begin registers a session for (conversationID, messageID) derived from
// parent. Any session already running for the conversation is cancelled and
// marked superseded.
func (m *Manager) Begin(parent context.Context, conversationID, messageID string) *StreamSession {
	ctx, cancel := context.WithCancel(parent)
	s := &StreamSession{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		MessageID:      messageID,
		StartedAt:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}

	m.mu.Lock()
	prev := m.sessions[conversationID]
	m.sessions[conversationID] = s
	m.mu.Unlock()

	if prev != nil {
		prev.superseded.Store(true)
		prev.cancel()
		m.log.Debug().
			Str("conversation", conversationID).
			Str("previous", prev.ID).
			Str("session", s.ID).
			Msg("superseded running stream")
	}
	return s
}

// End releases s. It only removes the registry entry if s is still the
// current session for its conversation. It reports whether it did.
func (m *Manager) End(s *StreamSession) bool {
	s.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.ConversationID] != s {
		return false
	}
	delete(m.sessions, s.ConversationID)
	return true
}

// Current returns the running session for a conversation.
func (m *Manager) Current(conversationID string) (*StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok
}

// Cancel aborts the running session of a conversation, if any.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

// CancelAll aborts every running session.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	all := make([]*StreamSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
