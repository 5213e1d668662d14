// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/kv"
	"github.com/jeranaias/chatstream/internal/model"
)

// Persisted keys.
const (
	KeyConversations = "gemini_conversations"
	KeyActiveID      = "gemini_active_conversation_id"

	// KeyConversationsBackup holds conversation data this build could not
	// read, copied aside before the store starts over.
	KeyConversationsBackup = KeyConversations + ".bak"

	persistTimeout    = 5 * time.Second
	logComponentField = "component"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the conversation collection. All methods are safe for concurrent
// use; every mutation holds the lock through its persistence step so writes
// reach the kv store in mutation order.
type Store struct {
	mu            sync.Mutex
	kv            kv.Store
	log           zerolog.Logger
	conversations []*model.Conversation // newest first
	activeID      string
	lastPersist   error
	now           func() time.Time
}

// Open loads the collection from store. Unreadable or unknown-version data is
// copied to KeyConversationsBackup and the Store starts empty. Failing to
// read the store or to write that backup is returned.
func Open(ctx context.Context, store kv.Store, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		kv:  store,
		log: logger.With().Str(logComponentField, "conversations").Logger(),
		now: time.Now,
	}

	raw, found, err := store.Get(ctx, KeyConversations)
	if err != nil {
		return nil, errors.Wrap(err, "load conversations")
	}
	if found {
		convs, version, err := decodeConversations([]byte(raw))
		if err != nil {
			if berr := store.Set(ctx, KeyConversationsBackup, raw); berr != nil {
				return nil, errors.Wrap(berr, "back up unreadable conversations")
			}
			s.log.Error().Err(err).Int("version", version).Str("backup", KeyConversationsBackup).
				Msg("unreadable conversation data moved aside")
		} else {
			s.conversations = convs
			if version != SchemaVersion {
				s.log.Info().Int("from", version).Int("to", SchemaVersion).Int("conversations", len(convs)).Msg("migrated conversation data")
			}
		}
	}

	activeID, found, err := store.Get(ctx, KeyActiveID)
	if err != nil {
		return nil, errors.Wrap(err, "load active conversation")
	}
	switch {
	case found && s.indexLocked(activeID) >= 0:
		s.activeID = activeID
	case len(s.conversations) > 0:
		s.activeID = s.conversations[0].ID
	}

	s.log.Debug().Int("conversations", len(s.conversations)).Str("active", s.activeID).Msg("conversation store loaded")
	return s, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateConversation inserts a new empty conversation at the head, makes it
// active and returns its id.
func (s *Store) CreateConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := model.NewConversation()
	conv.CreatedAt = s.now()
	conv.UpdatedAt = conv.CreatedAt
	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.activeID = conv.ID

	s.persistLocked()
	return conv.ID
}

// DeleteConversation removes id. If it was active, the new head becomes
// active, or nothing when the collection is empty. Unknown ids are ignored.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	if s.activeID == id {
		s.activeID = ""
		if len(s.conversations) > 0 {
			s.activeID = s.conversations[0].ID
		}
	}

	s.persistLocked()
}

// UpdateTitle replaces the title of id. Unknown ids are ignored.
func (s *Store) UpdateTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(id)
	if conv == nil {
		return
	}
	conv.Title = title
	conv.UpdatedAt = s.now()

	s.persistLocked()
}

// AppendMessages appends msgs to the conversation in one step. Unknown ids
// are ignored.
func (s *Store) AppendMessages(conversationID string, msgs ...model.Message) {
	if len(msgs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(conversationID)
	if conv == nil {
		return
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, m.Clone())
	}
	conv.UpdatedAt = s.now()

	s.persistLocked()
}

// AppendDelta adds text to the trailing assistant message, or replaces its
// content when overwrite is set. It does nothing unless the last message of
// the conversation is an assistant message.
func (s *Store) AppendDelta(conversationID, delta string, overwrite bool) {
	s.applyDelta(conversationID, "", delta, overwrite)
}

// AppendDeltaTo is AppendDelta restricted to the case where the trailing
// assistant message also has id messageID. It reports whether the delta was
// applied.
func (s *Store) AppendDeltaTo(conversationID, messageID, delta string, overwrite bool) bool {
	return s.applyDelta(conversationID, messageID, delta, overwrite)
}

func (s *Store) applyDelta(conversationID, messageID, delta string, overwrite bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(conversationID)
	if conv == nil {
		return false
	}
	last := conv.LastMessage()
	if last == nil || last.Role != model.RoleAssistant {
		return false
	}
	if messageID != "" && last.ID != messageID {
		return false
	}

	if overwrite {
		last.Content = model.TextContent(delta)
	} else {
		last.Content = model.TextContent(last.Text() + delta)
	}
	conv.UpdatedAt = s.now()

	s.persistLocked()
	return true
}

// SetActive marks id as the active conversation. An empty id clears it. The
// id is not validated; ActiveConversation resolves a stale id to none.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = id
	s.persistActiveLocked()
}

// =============================================================================
// READS
// =============================================================================

// ActiveID returns the stored active id, which may be stale.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveConversation returns a copy of the active conversation. It is derived
// on every call, so a stale active id yields false.
func (s *Store) ActiveConversation() (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(s.activeID)
	if conv == nil {
		return nil, false
	}
	return conv.Clone(), true
}

// Conversation returns a copy of the conversation with id.
func (s *Store) Conversation(id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getLocked(id)
	if conv == nil {
		return nil, errors.Wrap(ErrConversationNotFound, id)
	}
	return conv.Clone(), nil
}

// Conversations returns copies of all conversations, newest first.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// LastPersistError returns the error from the most recent persistence
// attempt, or nil if it succeeded.
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersist
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) getLocked(id string) *model.Conversation {
	if i := s.indexLocked(id); i >= 0 {
		return s.conversations[i]
	}
	return nil
}

// persistLocked writes the collection and the active id.
func (s *Store) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s.lastPersist = nil
	data, err := encodeConversations(s.conversations)
	if err == nil {
		err = s.kv.Set(ctx, KeyConversations, string(data))
	}
	if err != nil {
		s.recordPersistError(KeyConversations, err)
	}
	s.persistActiveLocked()
}

func (s *Store) persistActiveLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if s.activeID == "" {
		err = s.kv.Remove(ctx, KeyActiveID)
	} else {
		err = s.kv.Set(ctx, KeyActiveID, s.activeID)
	}
	if err != nil {
		s.recordPersistError(KeyActiveID, err)
	}
}

func (s *Store) recordPersistError(key string, err error) {
	perr := &PersistenceError{Key: key, Err: err}
	s.lastPersist = perr
	s.log.Error().Err(perr).Str("key", key).Msg("failed to persist conversations")
}
