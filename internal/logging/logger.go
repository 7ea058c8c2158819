// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package logging provides the process-wide zerolog logger for Bustrack.
//
// Every binary (server, driver, viewer) calls Init once from main with the
// values loaded by the config package. Until then a JSON logger at info
// level writes to stderr so package init code can log safely.
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	logging.Info().Str("vehicle_id", id).Msg("Tracking started")
//
// Adapters in this package route third-party loggers into the same sink:
// NewSlogLogger feeds sutureslog, NewWatermillLogger feeds Watermill.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error, disabled.
	Level string

	// Format is json or console.
	Format string

	// Caller adds file:line to each entry.
	Caller bool

	// NoTimestamp drops the time field, for golden-output tests.
	NoTimestamp bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}

var (
	mu     sync.RWMutex
	global zerolog.Logger
)

//nolint:gochecknoinits // logging must work before main calls Init
func init() {
	global = build(DefaultConfig())
}

// Init replaces the global logger. Safe to call more than once.
func Init(cfg Config) {
	l := build(cfg)
	mu.Lock()
	global = l
	mu.Unlock()
}

func build(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	ctx := zerolog.New(out).With()
	if !cfg.NoTimestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel maps a config level name to zerolog. Unknown names mean info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	return l
}

// WithComponent returns a child logger tagged with component=name.
//
//	l := logging.WithComponent("broker")
func WithComponent(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// Debug, Info, Warn and Error start an entry on the global logger.
func Debug() *zerolog.Event { l := Logger(); return l.Debug() }

func Info() *zerolog.Event { l := Logger(); return l.Info() }

func Warn() *zerolog.Event { l := Logger(); return l.Warn() }

func Error() *zerolog.Event { l := Logger(); return l.Error() }

// Fatal starts a fatal-level entry; the process exits after Msg.
func Fatal() *zerolog.Event { l := Logger(); return l.Fatal() }
