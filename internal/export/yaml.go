// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/chatstream/internal/model"
)

// YAMLExporter writes a readable YAML document. Image data URLs are
// shortened like in Markdown output.
type YAMLExporter struct {
	options *Options
}

// NewYAMLExporter creates a YAML exporter.
func NewYAMLExporter(opts *Options) *YAMLExporter {
	return &YAMLExporter{options: opts.withDefaults()}
}

type yamlConversation struct {
	ID        string        `yaml:"id"`
	Title     string        `yaml:"title"`
	CreatedAt time.Time     `yaml:"created_at"`
	UpdatedAt time.Time     `yaml:"updated_at"`
	Messages  []yamlMessage `yaml:"messages"`
}

type yamlMessage struct {
	ID        string    `yaml:"id"`
	Role      string    `yaml:"role"`
	Timestamp time.Time `yaml:"timestamp"`
	Text      string    `yaml:"text"`
	Images    []string  `yaml:"images,omitempty"`
}

// Export converts a conversation to YAML.
func (e *YAMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	doc := yamlConversation{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]yamlMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		m := yamlMessage{
			ID:        msg.ID,
			Role:      msg.Role.String(),
			Timestamp: msg.Timestamp,
			Text:      msg.Text(),
		}
		if parts, ok := msg.Content.(model.PartsContent); ok {
			for _, p := range parts {
				if p.Type == model.PartImageURL && p.ImageURL != nil {
					m.Images = append(m.Images, shortenURL(p.ImageURL.URL, e.options.ImagePreview))
				}
			}
		}
		doc.Messages = append(doc.Messages, m)
	}
	return yaml.Marshal(doc)
}

// FileExtension returns ".yaml".
func (e *YAMLExporter) FileExtension() string {
	return ".yaml"
}

// MimeType returns "application/yaml".
func (e *YAMLExporter) MimeType() string {
	return "application/yaml"
}
