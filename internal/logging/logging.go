// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger from config.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/jeranaias/chatstream/internal/config"
)

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Output is the writer behind a logger built by New. Its level can be
// changed while the logger is in use, so components holding copies of the
// logger follow a reloaded config.
type Output struct {
	w     io.Writer
	file  *os.File
	level atomic.Int32
}

// SetLevel changes the minimum level written.
func (o *Output) SetLevel(l zerolog.Level) {
	o.level.Store(int32(l))
}

// Level returns the minimum level written.
func (o *Output) Level() zerolog.Level {
	return zerolog.Level(o.level.Load())
}

func (o *Output) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

// WriteLevel implements zerolog.LevelWriter.
func (o *Output) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < o.Level() {
		return len(p), nil
	}
	return o.w.Write(p)
}

// Close releases the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

// New returns a logger for cfg. Output goes to cfg.File when set and to
// stderr otherwise; the console format is used only on a terminal. The
// returned Output adjusts the level and releases the log file.
func New(cfg config.LogConfig) (zerolog.Logger, *Output, error) {
	o := &Output{w: os.Stderr}
	tty := term.IsTerminal(int(os.Stderr.Fd()))

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return zerolog.Nop(), o, errors.Wrapf(err, "open log file %s", cfg.File)
		}
		o.w, o.file, tty = f, f, false
	}

	if strings.EqualFold(cfg.Format, "console") && tty {
		o.w = zerolog.ConsoleWriter{Out: o.w, TimeFormat: time.Kitchen}
	}
	o.SetLevel(ParseLevel(cfg.Level))

	logger := zerolog.New(o).Level(zerolog.TraceLevel).With().Timestamp().Logger()
	return logger, o, nil
}

// Install makes logger the process-wide default.
func Install(logger zerolog.Logger) {
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
}
