// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConversationNotFound is returned by lookups for an unknown id.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUnsupportedVersion means the persisted data was written by a newer
	// schema than this build understands.
	ErrUnsupportedVersion = errors.New("unsupported conversation schema version")
)

// PersistenceError wraps a failed write of one key.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
