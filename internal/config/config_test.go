// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/kv"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATSTREAM_HOME", dir)
	for _, k := range []string{"CHATSTREAM_BASE_URL", "CHATSTREAM_API_KEY", "CHATSTREAM_STORAGE", "CHATSTREAM_STORAGE_PATH", "CHATSTREAM_REDIS_ADDR", "CHATSTREAM_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return dir
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, kv.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(dir, "state.json"), cfg.Storage.Path)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url = "https://llm.example.com/"

[storage]
backend = "sqlite"

[log]
level = "debug"
`), 0600))
	t.Setenv("CHATSTREAM_API_KEY", "sk-env")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://llm.example.com", cfg.BaseURL)
	assert.Equal(t, kv.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-env", cfg.APIKeyOverride)
}

func TestLoad_Invalid(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url = "ftp://nope"
[storage]
backend = "etcd"
`), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.BaseURL = "https://saved.example.com"
	cfg.APIKeyOverride = "must-not-be-written"
	require.NoError(t, SaveTOML(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "must-not-be-written")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example.com", loaded.BaseURL)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, zerolog.Nop(), func(c *Config) { changed <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	cfg := Default()
	cfg.BaseURL = "https://reloaded.example.com"
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case got := <-changed:
		assert.Equal(t, "https://reloaded.example.com", got.BaseURL)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	<-done
}

func TestHolder_Concurrent(t *testing.T) {
	h := NewHolder(Default())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Set(Default())
		}()
		go func() {
			defer wg.Done()
			assert.NotNil(t, h.Current())
		}()
	}
	wg.Wait()
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings(context.Background(), kv.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, "gemini-2.5-flash", s.Model)
	assert.Equal(t, 0.7, s.Temperature)
	assert.Equal(t, 1.0, s.TopP)
	assert.Equal(t, ThemeSystem, s.Theme)
}

func TestLoadSettings_FixedKeysAndBadValues(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, "gemini_api_key", "sk-1"))
	require.NoError(t, store.Set(ctx, "gemini_zhipu_api_key", "id.secret"))
	require.NoError(t, store.Set(ctx, "gemini_temperature", "1.3"))
	require.NoError(t, store.Set(ctx, "gemini_top_p", "not-a-number"))
	require.NoError(t, store.Set(ctx, "gemini_max_tokens", "2048"))
	require.NoError(t, store.Set(ctx, "gemini_theme", "dark"))

	s, err := LoadSettings(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", s.APIKey)
	assert.Equal(t, "id.secret", s.TitleAPIKey)
	assert.Equal(t, 1.3, s.Temperature)
	assert.Equal(t, 1.0, s.TopP)
	assert.Equal(t, 2048, s.MaxTokens)
	assert.Equal(t, ThemeDark, s.Theme)
}

func TestSetSetting_Validates(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	require.NoError(t, SetSetting(ctx, store, SettingTopP, "0.9"))
	assert.Error(t, SetSetting(ctx, store, SettingTopP, "1.5"))
	assert.Error(t, SetSetting(ctx, store, SettingMaxTokens, "-1"))
	assert.Error(t, SetSetting(ctx, store, SettingTheme, "sepia"))
	assert.ErrorIs(t, SetSetting(ctx, store, "colour", "x"), ErrUnknownSetting)

	v, found, err := store.Get(ctx, "gemini_top_p")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0.9", v)
}

func TestSettings_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	s := DefaultSettings()
	s.Model = "gemini-2.5-pro"
	s.MaxTokens = 512
	require.NoError(t, s.Save(ctx, store))

	got, err := LoadSettings(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestReconcileModel(t *testing.T) {
	m, changed := ReconcileModel([]string{"a", "b"}, "b")
	assert.Equal(t, "b", m)
	assert.False(t, changed)

	m, changed = ReconcileModel([]string{"a", "b"}, "gone")
	assert.Equal(t, "a", m)
	assert.True(t, changed)

	m, changed = ReconcileModel(nil, "keep")
	assert.Equal(t, "keep", m)
	assert.False(t, changed)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "*****6789", MaskSecret("sk-456789"))
}
