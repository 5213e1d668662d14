// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to files.
//
// # Supported Formats
//
//   - Markdown: front matter, one heading per message, images as
//     shortened placeholders
//   - JSON: the conversation exactly as stored
//   - YAML: a readable document with text and image references split out
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ToFile(conv, exp, &export.Options{OutputDir: "."})
package export
