// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/chatstream/internal/config"
)

// newMarkdownRenderer builds a glamour renderer for the theme setting. It
// returns nil when rendering should be skipped.
func newMarkdownRenderer(theme string, width int) *glamour.TermRenderer {
	style := "dark"
	switch theme {
	case config.ThemeLight:
		style = "light"
	case config.ThemeDark:
	default:
		if !hasDarkBackground() {
			style = "light"
		}
	}

	wrap := width - 4
	if wrap < MinTerminalWidth {
		wrap = MinTerminalWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown renders content, falling back to the raw text.
func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}
