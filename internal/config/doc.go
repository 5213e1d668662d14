// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for chatstream.
//
// Two layers exist:
//
//   - Config: the application file (~/.chatstream/config.toml) holding the
//     endpoint, storage backend and logging setup.
//   - Settings: per-user chat settings (API keys, model, sampling
//     parameters, theme) stored field by field in the kv store under fixed
//     "gemini_*" keys.
//
// # Configuration Precedence
//
// Config is resolved in this order (highest first):
//   - Environment variables (CHATSTREAM_*)
//   - ~/.chatstream/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	store, err := kv.Open(ctx, cfg.StorageOptions())
package config
