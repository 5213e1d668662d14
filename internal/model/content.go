// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Part types used on the wire.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL carries an image reference, normally a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image part from a data URL.
func ImagePart(dataURL string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: dataURL}}
}

// Content is the body of a message. It is one of TextContent or
// PartsContent.
type Content interface {
	// Text returns the concatenated text of the content, ignoring images.
	Text() string
	// HasImage reports whether any image part is present.
	HasImage() bool
	clone() Content
}

// TextContent is a plain string body.
type TextContent string

func (c TextContent) Text() string   { return string(c) }
func (c TextContent) HasImage() bool { return false }
func (c TextContent) clone() Content { return c }

// PartsContent is an ordered list of text and image parts.
type PartsContent []ContentPart

func (c PartsContent) Text() string {
	var texts []string
	for _, p := range c {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c PartsContent) HasImage() bool {
	for _, p := range c {
		if p.Type == PartImageURL && p.ImageURL != nil {
			return true
		}
	}
	return false
}

func (c PartsContent) clone() Content {
	out := make(PartsContent, len(c))
	for i, p := range c {
		out[i] = p
		if p.ImageURL != nil {
			u := *p.ImageURL
			out[i].ImageURL = &u
		}
	}
	return out
}

// CloneContent returns a deep copy of c. A nil content becomes empty text.
func CloneContent(c Content) Content {
	if c == nil {
		return TextContent("")
	}
	return c.clone()
}

// MarshalContent encodes content the way the chat API expects.
func MarshalContent(c Content) ([]byte, error) {
	switch v := c.(type) {
	case nil:
		return []byte(`""`), nil
	case TextContent:
		return json.Marshal(string(v))
	case PartsContent:
		return json.Marshal([]ContentPart(v))
	default:
		return nil, errors.Errorf("unsupported content type %T", c)
	}
}

// UnmarshalContent decodes either a JSON string or a JSON array of parts.
// null decodes to empty text.
func UnmarshalContent(data []byte) (Content, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return TextContent(""), nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, errors.Wrap(err, "decode text content")
		}
		return TextContent(s), nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, errors.Wrap(err, "decode content parts")
		}
		return PartsContent(parts), nil
	default:
		return nil, errors.Errorf("content must be a string or an array, got %q", trimmed[:1])
	}
}
