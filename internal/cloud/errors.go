// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConfigured is returned when no API key was supplied.
	ErrNotConfigured = errors.New("api key not configured")

	// ErrEmptyResponse is returned by Complete when the response has no
	// choices.
	ErrEmptyResponse = errors.New("API 响应中没有找到有效的回答")

	// ErrLineTooLong is a stream-fatal error for a line over MaxLineSize.
	ErrLineTooLong = errors.New("stream line exceeds maximum size")

	// ErrNoBody is the body text of a RequestError for a response without
	// a readable body.
	ErrNoBody = errors.New("response has no body")
)

// RequestError is a failed HTTP exchange: a non-2xx status or a response
// without a body.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("API 请求失败，状态码: %d. %s", e.StatusCode, e.Body)
}

// ParseError describes one stream line whose JSON could not be decoded. It
// is logged and never returned from a stream.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream line %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
