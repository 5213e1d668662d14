// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/chatstream/internal/model"
)

// SchemaVersion is written into every persisted envelope.
const SchemaVersion = 2

type envelope struct {
	Version       int                   `json:"version"`
	Conversations []*model.Conversation `json:"conversations"`
}

// Version 1 is the unversioned array with millisecond timestamps.
type legacyConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []legacyMessage `json:"messages"`
	CreatedAt int64           `json:"createdAt"`
}

type legacyMessage struct {
	ID        string          `json:"id"`
	Role      model.Role      `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

func encodeConversations(convs []*model.Conversation) ([]byte, error) {
	if convs == nil {
		convs = []*model.Conversation{}
	}
	return json.Marshal(envelope{Version: SchemaVersion, Conversations: convs})
}

// decodeConversations reads any known schema version and returns the
// conversations in their stored order plus the version that was found.
func decodeConversations(raw []byte) ([]*model.Conversation, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, SchemaVersion, nil
	}

	if trimmed[0] == '[' {
		convs, err := migrateV1(trimmed)
		return convs, 1, err
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, 0, errors.Wrap(err, "decode conversation envelope")
	}
	switch {
	case env.Version == SchemaVersion:
	case env.Version > SchemaVersion:
		return nil, env.Version, errors.Wrapf(ErrUnsupportedVersion, "version %d", env.Version)
	default:
		return nil, env.Version, errors.Errorf("unknown conversation schema version %d", env.Version)
	}

	for _, c := range env.Conversations {
		normalize(c)
	}
	return env.Conversations, env.Version, nil
}

func migrateV1(raw []byte) ([]*model.Conversation, error) {
	var legacy []legacyConversation
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, errors.Wrap(err, "decode v1 conversations")
	}

	out := make([]*model.Conversation, 0, len(legacy))
	for _, lc := range legacy {
		conv := &model.Conversation{
			ID:        lc.ID,
			Title:     lc.Title,
			Messages:  make([]model.Message, 0, len(lc.Messages)),
			CreatedAt: time.UnixMilli(lc.CreatedAt),
		}
		for _, lm := range lc.Messages {
			content, err := model.UnmarshalContent(lm.Content)
			if err != nil {
				return nil, errors.Wrapf(err, "conversation %s", lc.ID)
			}
			conv.Messages = append(conv.Messages, model.Message{
				ID:        lm.ID,
				Role:      lm.Role,
				Content:   content,
				Timestamp: time.UnixMilli(lm.Timestamp),
			})
		}
		conv.UpdatedAt = conv.CreatedAt
		if last := conv.LastMessage(); last != nil {
			conv.UpdatedAt = last.Timestamp
		}
		normalize(conv)
		out = append(out, conv)
	}
	return out, nil
}

func normalize(c *model.Conversation) {
	if c.Title == "" {
		c.Title = model.DefaultTitle
	}
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	for i := range c.Messages {
		if c.Messages[i].Content == nil {
			c.Messages[i].Content = model.TextContent("")
		}
	}
}
