// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatstream command line.
//
// # Commands
//
//   - chat: interactive REPL with history and slash commands
//   - ask: one message, reply printed to stdout
//   - models: list the provider's models and reconcile the selected one
//   - conversations: list, show, rename, delete and export
//   - settings: get, set and list stored chat settings
//   - config: show or initialize the config file
//
// Global flags --config, --log-level and --storage apply to every command.
package cli
