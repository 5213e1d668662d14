// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	return &MarkdownExporter{options: opts.withDefaults()}
}

type frontMatter struct {
	Title     string `yaml:"title"`
	ID        string `yaml:"id"`
	Created   string `yaml:"date"`
	Updated   string `yaml:"updated"`
	Messages  int    `yaml:"messages"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		// yaml.v3 quotes titles that would otherwise break the block.
		fm, err := yaml.Marshal(frontMatter{
			Title:     conv.Title,
			ID:        conv.ID,
			Created:   conv.CreatedAt.Format(time.RFC3339),
			Updated:   conv.UpdatedAt.Format(time.RFC3339),
			Messages:  len(conv.Messages),
			Exported:  e.options.Now().Format(time.RFC3339),
			Generator: "chatstream",
		})
		if err != nil {
			return nil, err
		}
		sb.WriteString("---\n")
		sb.Write(fm)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n\n", len(conv.Messages))
	}

	for i, msg := range conv.Messages {
		label := msg.Role.DisplayName()
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(e.formatContent(msg.Content))
		sb.WriteString("\n\n")

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns "text/markdown".
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// formatContent writes message text as is and images as placeholders.
func (e *MarkdownExporter) formatContent(c model.Content) string {
	switch c := c.(type) {
	case model.PartsContent:
		blocks := make([]string, 0, len(c))
		for _, p := range c {
			switch {
			case p.Type == model.PartText && p.Text != "":
				blocks = append(blocks, strings.TrimSpace(p.Text))
			case p.Type == model.PartImageURL && p.ImageURL != nil:
				blocks = append(blocks, fmt.Sprintf("![image](%s)", shortenURL(p.ImageURL.URL, e.options.ImagePreview)))
			}
		}
		return strings.Join(blocks, "\n\n")
	case nil:
		return ""
	default:
		return strings.TrimSpace(c.Text())
	}
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}
