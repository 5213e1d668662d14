// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package media turns local image files into base64 data URLs for
// multi-part messages.
package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MaxImageSize is the largest file FileToDataURL accepts.
const MaxImageSize = 20 * 1024 * 1024

// ErrNotImage is wrapped by ConversionError for non-image input.
var ErrNotImage = errors.New("not an image")

// ConversionError means a file could not be converted.
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// FileToDataURL reads an image and returns "data:<mime>;base64,<data>".
func FileToDataURL(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageSize+1))
	if err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}
	if len(data) > MaxImageSize {
		return "", &ConversionError{Path: path, Err: errors.Errorf("file exceeds %d bytes", MaxImageSize)}
	}

	mimeType := DetectImageType(path, data)
	if mimeType == "" {
		return "", &ConversionError{Path: path, Err: ErrNotImage}
	}
	return EncodeDataURL(mimeType, data), nil
}

// EncodeDataURL formats data as a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DetectImageType sniffs the content type and falls back to the file
// extension. It returns "" when neither says image.
func DetectImageType(path string, data []byte) string {
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(byExt, ';'); i >= 0 {
		byExt = byExt[:i]
	}
	if strings.HasPrefix(byExt, "image/") {
		return byExt
	}
	return ""
}
