// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if cfg.NoTimestamp {
		t.Error("expected timestamps on by default")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// The tests below reconfigure the global logger and must not run in parallel.

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("vehicle_id", "bus-1").Msg("tracking started")

	out := buf.String()
	if !strings.Contains(out, "tracking started") {
		t.Errorf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"vehicle_id":"bus-1"`) {
		t.Errorf("expected vehicle_id field, got: %s", out)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "console", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("console test")

	if strings.Contains(buf.String(), `"level"`) {
		t.Errorf("expected console format, got JSON: %s", buf.String())
	}
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	Ctx(ctx).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) || !strings.Contains(out, `"session_id":"sess-1"`) {
		t.Errorf("expected context IDs in output, got: %s", out)
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("expected empty request ID on bare context")
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(DefaultConfig())

	NewSlogLogger().WithGroup("supervisor").Warn("service restarted", slog.String("service", "hub"), slog.Int("attempt", 2))

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got: %s", out)
	}
	if !strings.Contains(out, `"supervisor.service":"hub"`) {
		t.Errorf("expected grouped key, got: %s", out)
	}
}

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(DefaultConfig())

	wl := NewWatermillLogger().With(watermill.LogFields{"topic": "bustrack.events"})
	wl.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 1})

	out := buf.String()
	for _, want := range []string{`"component":"eventbus"`, `"topic":"bustrack.events"`, `"error":"boom"`, `"attempt":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}
