// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// IsChatRole reports whether messages with this role are sent to the model
// as conversation history.
func (r Role) IsChatRole() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a conversation. ID and Role never change after
// creation; only the content of a trailing assistant message is rewritten
// while a response streams in.
type Message struct {
	ID        string
	Role      Role
	Content   Content
	Timestamp time.Time
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content Content) Message {
	if content == nil {
		content = TextContent("")
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantPlaceholder creates the empty assistant message that receives
// streamed deltas.
func NewAssistantPlaceholder() Message {
	return NewMessage(RoleAssistant, TextContent(""))
}

// Text returns the message text, ignoring image parts.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Text()
}

// Preview returns a single-line preview truncated to maxLen runes.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.SingleLine(m.Text()), maxLen, "...")
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.Content = CloneContent(m.Content)
	return m
}

type messageJSON struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON writes content as a string or a parts array.
func (m Message) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		Role:      m.Role,
		Content:   content,
		Timestamp: m.Timestamp,
	})
}

// UnmarshalJSON accepts either content shape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode message")
	}
	content, err := UnmarshalContent(raw.Content)
	if err != nil {
		return errors.Wrapf(err, "message %s", raw.ID)
	}
	*m = Message{
		ID:        raw.ID,
		Role:      raw.Role,
		Content:   content,
		Timestamp: raw.Timestamp,
	}
	return nil
}
