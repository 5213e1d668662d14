// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_FileIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")

	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "console", File: path})
	require.NoError(t, err)
	logger.Debug().Str("k", "v").Msg("hello")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(raw, &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "v", line["k"])
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")

	logger, closer, err := New(config.LogConfig{Level: "error", Format: "json", File: path})
	require.NoError(t, err)
	logger.Info().Msg("dropped")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestOutput_SetLevelAppliesToExistingLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")

	logger, out, err := New(config.LogConfig{Level: "error", Format: "json", File: path})
	require.NoError(t, err)
	child := logger.With().Str("component", "title").Logger()

	child.Info().Msg("before")
	out.SetLevel(zerolog.InfoLevel)
	child.Info().Msg("after")
	out.SetLevel(zerolog.Disabled)
	child.Error().Msg("silenced")
	require.NoError(t, out.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "before")
	assert.Contains(t, string(raw), "after")
	assert.NotContains(t, string(raw), "silenced")
}
