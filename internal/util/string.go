// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncateRunes keeps the first n runes of s and appends suffix when
// anything was cut. Counting is by rune so CJK text is never split mid
// character.
func TruncateRunes(s string, n int, suffix string) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}

// FitWidth pads or truncates s to exactly width terminal cells.
func FitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// SingleLine collapses newlines and runs of whitespace to single spaces.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
