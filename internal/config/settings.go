// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jeranaias/chatstream/internal/kv"
)

// Setting names. Each is stored under "gemini_" + name.
const (
	SettingAPIKey       = "api_key"
	SettingTitleAPIKey  = "zhipu_api_key"
	SettingModel        = "model"
	SettingSystemPrompt = "system_prompt"
	SettingTemperature  = "temperature"
	SettingTopP         = "top_p"
	SettingMaxTokens    = "max_tokens"
	SettingTheme        = "theme"

	settingKeyPrefix = "gemini_"
)

// Themes.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// ErrUnknownSetting is returned for a name that is not a setting.
var ErrUnknownSetting = errors.New("unknown setting")

// Settings are the per-user chat settings.
type Settings struct {
	APIKey       string
	TitleAPIKey  string
	Model        string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int // 0 means unbounded
	Theme        string
}

// DefaultSettings returns the settings used before anything is saved.
func DefaultSettings() Settings {
	return Settings{
		Model:        "gemini-2.5-flash",
		SystemPrompt: "You are a helpful assistant.",
		Temperature:  0.7,
		TopP:         1.0,
		MaxTokens:    0,
		Theme:        ThemeSystem,
	}
}

// SettingNames lists every setting name, sorted.
func SettingNames() []string {
	names := []string{
		SettingAPIKey, SettingTitleAPIKey, SettingModel, SettingSystemPrompt,
		SettingTemperature, SettingTopP, SettingMaxTokens, SettingTheme,
	}
	sort.Strings(names)
	return names
}

// SettingKey returns the kv key a setting is stored under.
func SettingKey(name string) string {
	return settingKeyPrefix + name
}

// IsSecret reports whether a setting should be masked when displayed.
func IsSecret(name string) bool {
	return name == SettingAPIKey || name == SettingTitleAPIKey
}

// LoadSettings reads every setting from store. Missing or unparsable values
// keep their defaults; only store errors are returned.
func LoadSettings(ctx context.Context, store kv.Store) (Settings, error) {
	s := DefaultSettings()
	for _, name := range SettingNames() {
		raw, found, err := store.Get(ctx, SettingKey(name))
		if err != nil {
			return s, errors.Wrapf(err, "load setting %s", name)
		}
		if !found || raw == "" {
			continue
		}
		// Bad stored values fall back to the default.
		_ = s.apply(name, raw)
	}
	return s, nil
}

// SetSetting validates value and stores it under name.
func SetSetting(ctx context.Context, store kv.Store, name, value string) error {
	var scratch Settings
	if err := scratch.apply(name, value); err != nil {
		return err
	}
	return errors.Wrapf(store.Set(ctx, SettingKey(name), value), "save setting %s", name)
}

// Save stores every field of s.
func (s Settings) Save(ctx context.Context, store kv.Store) error {
	for _, name := range SettingNames() {
		v, _ := s.Get(name)
		if err := store.Set(ctx, SettingKey(name), v); err != nil {
			return errors.Wrapf(err, "save setting %s", name)
		}
	}
	return nil
}

// Get returns the string form of a setting.
func (s Settings) Get(name string) (string, error) {
	switch name {
	case SettingAPIKey:
		return s.APIKey, nil
	case SettingTitleAPIKey:
		return s.TitleAPIKey, nil
	case SettingModel:
		return s.Model, nil
	case SettingSystemPrompt:
		return s.SystemPrompt, nil
	case SettingTemperature:
		return strconv.FormatFloat(s.Temperature, 'f', -1, 64), nil
	case SettingTopP:
		return strconv.FormatFloat(s.TopP, 'f', -1, 64), nil
	case SettingMaxTokens:
		return strconv.Itoa(s.MaxTokens), nil
	case SettingTheme:
		return s.Theme, nil
	default:
		return "", errors.Wrap(ErrUnknownSetting, name)
	}
}

func (s *Settings) apply(name, raw string) error {
	switch name {
	case SettingAPIKey:
		s.APIKey = strings.TrimSpace(raw)
	case SettingTitleAPIKey:
		s.TitleAPIKey = strings.TrimSpace(raw)
	case SettingModel:
		if strings.TrimSpace(raw) == "" {
			return errors.New("model must not be empty")
		}
		s.Model = strings.TrimSpace(raw)
	case SettingSystemPrompt:
		s.SystemPrompt = raw
	case SettingTemperature:
		v, err := parseRange(raw, 0, 2)
		if err != nil {
			return errors.Wrap(err, name)
		}
		s.Temperature = v
	case SettingTopP:
		v, err := parseRange(raw, 0, 1)
		if err != nil {
			return errors.Wrap(err, name)
		}
		s.TopP = v
	case SettingMaxTokens:
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v < 0 {
			return errors.Errorf("%s: must be a non-negative integer", name)
		}
		s.MaxTokens = v
	case SettingTheme:
		switch raw {
		case ThemeLight, ThemeDark, ThemeSystem:
			s.Theme = raw
		default:
			return errors.Errorf("%s: must be light, dark or system", name)
		}
	default:
		return errors.Wrap(ErrUnknownSetting, name)
	}
	return nil
}

func parseRange(raw string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if v < lo || v > hi {
		return 0, errors.Errorf("must be between %g and %g", lo, hi)
	}
	return v, nil
}

// ReconcileModel picks the model to use given the provider's list: the
// current one if offered, otherwise the first. changed reports whether the
// caller should persist the result.
func ReconcileModel(available []string, current string) (model string, changed bool) {
	if len(available) == 0 {
		return current, false
	}
	for _, m := range available {
		if m == current {
			return current, false
		}
	}
	return available[0], true
}

// MaskSecret hides all but the last four characters.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
