// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation in one format.
type Exporter interface {
	// Export returns the rendered conversation.
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

var (
	// ErrNilConversation is returned for a nil conversation.
	ErrNilConversation = errors.New("conversation is nil")

	// ErrUnsupportedFormat is returned by ForFormat.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds front matter to Markdown output.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times to Markdown headings.
	IncludeTimestamps bool

	// ImagePreview is how many characters of an image data URL are kept
	// in Markdown and YAML output. Zero keeps the default.
	ImagePreview int

	// Now is used for export timestamps. Default: time.Now.
	Now func() time.Time
}

// DefaultImagePreview is the default ImagePreview.
const DefaultImagePreview = 48

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		ImagePreview:      DefaultImagePreview,
		Now:               time.Now,
	}
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	c := *o
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.ImagePreview <= 0 {
		c.ImagePreview = DefaultImagePreview
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &c
}

// Formats lists the names accepted by ForFormat.
func Formats() []string {
	return []string{"markdown", "json", "yaml"}
}

// ForFormat returns the exporter for a format name. "md" and "yml" are
// accepted as aliases.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "yaml", "yml":
		return NewYAMLExporter(opts), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile renders conv with exporter and writes it under opts.OutputDir.
// It returns the written path.
func ToFile(conv *model.Conversation, exporter Exporter, opts *Options) (string, error) {
	opts = opts.withDefaults()
	if conv == nil {
		return "", ErrNilConversation
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", errors.Wrap(err, "export failed")
	}

	path := filepath.Join(opts.OutputDir, Filename(conv, exporter.FileExtension(), opts.Now()))
	if err := util.AtomicWriteFile(path, content, 0o644, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Filename builds "conversation_<title>_<yyyymmdd_hhmmss><ext>".
func Filename(conv *model.Conversation, ext string, now time.Time) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.Title),
		now.Format("20060102_150405"),
		ext,
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

const maxFilenameRunes = 50

// sanitizeFilename replaces characters that are invalid in filenames on
// common platforms.
func sanitizeFilename(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxFilenameRunes {
		runes = runes[:maxFilenameRunes]
	}

	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			out = append(out, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = append(out, '_')
		case r < 32 || r == 127:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return "conversation"
	}
	return string(out)
}

// shortenURL keeps the first n characters of an image URL.
func shortenURL(url string, n int) string {
	if len(url) <= n {
		return url
	}
	return url[:n] + "..."
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
