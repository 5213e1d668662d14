// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage owns the canonical list of conversations.
//
// The Store keeps conversations newest first, tracks which one is active and
// writes the whole collection to an injected kv.Store after every mutation.
// Persistence failures are logged and never change the in-memory result.
//
// The persisted value is a versioned envelope:
//
//	{"version": 2, "conversations": [...]}
//
// A bare JSON array (the unversioned layout with millisecond timestamps) is
// migrated on load.
package storage
