// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/jeranaias/chatstream/internal/util"
)

const (
	// DefaultTitle is shown until a conversation gets a real title.
	DefaultTitle = "新对话"

	// ImageOnlyTitle is the provisional title for a first message that
	// carries only an image.
	ImageOnlyTitle = "图像消息"

	// ProvisionalTitleRunes is how much of the first message becomes the
	// provisional title.
	ProvisionalTitleRunes = 20
)

// Conversation is a titled transcript. Messages only grow, except that the
// final assistant message's content is rewritten while it streams.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation with the default title.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        NewConversationID(now),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewConversationID returns "conv_<unix millis>_<random hex>".
func NewConversationID(now time.Time) string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return "conv_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(b)
}

// LastMessage returns the final message, or nil for an empty conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func (c *Conversation) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return &c.Messages[i]
		}
	}
	return nil
}

// IsEmpty reports whether no messages have been added.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasDefaultTitle reports whether the title was never changed.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// Preview returns a short preview of the first user message.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			if msg.Text() == "" && msg.Content.HasImage() {
				return ImageOnlyTitle
			}
			return msg.Preview(60)
		}
	}
	return ""
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}

// ProvisionalTitle derives a title from the first user message: its first 20
// runes, with "..." appended when longer. An image-only message yields
// ImageOnlyTitle.
func ProvisionalTitle(text string, hasImage bool) string {
	if text == "" && hasImage {
		return ImageOnlyTitle
	}
	if text == "" {
		return DefaultTitle
	}
	return util.TruncateRunes(text, ProvisionalTitleRunes, "...")
}
