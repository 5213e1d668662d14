// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/jeranaias/chatstream/internal/kv"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the application configuration file.
type Config struct {
	// BaseURL is the OpenAI-compatible API root, without /v1.
	BaseURL string `toml:"base_url"`

	Title   TitleConfig   `toml:"title"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`

	// APIKeyOverride comes from CHATSTREAM_API_KEY and takes precedence over
	// the stored setting. It is never written to disk.
	APIKeyOverride string `toml:"-"`
}

// TitleConfig locates the title provider.
type TitleConfig struct {
	BaseURL  string `toml:"base_url"`
	ChatPath string `toml:"chat_path"`
	Model    string `toml:"model"`
}

// StorageConfig selects the kv backend.
type StorageConfig struct {
	Backend     string `toml:"backend"` // file, sqlite, redis, memory
	Path        string `toml:"path"`
	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console, json
	File   string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL: "http://localhost:8080",
		Title: TitleConfig{
			BaseURL:  "https://open.bigmodel.cn/api/paas",
			ChatPath: "/v4/chat/completions",
			Model:    "glm-4-flash",
		},
		Storage: StorageConfig{
			Backend:     kv.BackendFile,
			RedisAddr:   "localhost:6379",
			RedisPrefix: kv.DefaultRedisPrefix,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory. CHATSTREAM_HOME overrides
// the default ~/.chatstream.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CHATSTREAM_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".chatstream"), nil
}

// ConfigPath returns the path of config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file at path, or the default path when empty. A
// missing file yields the defaults. Environment overrides are applied and
// the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatstream configuration file\n")
	buf.WriteString("# Chat settings (keys, model, sampling) live in the storage backend;\n")
	buf.WriteString("# change them with `chatstream settings set`.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// SetDefaults fills fields that depend on other fields.
func (c *Config) SetDefaults() error {
	if c.Storage.Path == "" && (c.Storage.Backend == kv.BackendFile || c.Storage.Backend == kv.BackendSQLite) {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		name := "state.json"
		if c.Storage.Backend == kv.BackendSQLite {
			name = "state.db"
		}
		c.Storage.Path = filepath.Join(dir, name)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

// ApplyEnvOverrides applies CHATSTREAM_* variables:
//   - CHATSTREAM_BASE_URL: base_url
//   - CHATSTREAM_API_KEY: API key, taking precedence over the stored one
//   - CHATSTREAM_STORAGE: storage.backend
//   - CHATSTREAM_STORAGE_PATH: storage.path
//   - CHATSTREAM_REDIS_ADDR: storage.redis_addr
//   - CHATSTREAM_LOG_LEVEL: log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATSTREAM_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CHATSTREAM_API_KEY"); v != "" {
		c.APIKeyOverride = v
	}
	if v := os.Getenv("CHATSTREAM_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHATSTREAM_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHATSTREAM_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("CHATSTREAM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// StorageOptions converts the storage section for kv.Open.
func (c *Config) StorageOptions() kv.Options {
	return kv.Options{
		Backend:     c.Storage.Backend,
		Path:        c.Storage.Path,
		RedisAddr:   c.Storage.RedisAddr,
		RedisPrefix: c.Storage.RedisPrefix,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateURL(c.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "base_url", Message: err.Error()})
	}
	if err := validateURL(c.Title.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "title.base_url", Message: err.Error()})
	}

	switch c.Storage.Backend {
	case kv.BackendFile, kv.BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, ValidationError{Field: "storage.path", Message: "required for " + c.Storage.Backend})
		}
	case kv.BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, ValidationError{Field: "storage.redis_addr", Message: "required for redis"})
		}
	case kv.BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, redis, memory", c.Storage.Backend),
		})
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{Field: "log.format", Message: "must be console or json"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// =============================================================================
// HOLDER (THREAD-SAFE)
// =============================================================================

// Holder shares the current config between goroutines, for long-running
// commands that reload it on change.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder wraps cfg.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Current returns the active config. Callers must not modify it.
func (h *Holder) Current() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set replaces the active config.
func (h *Holder) Set(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}
