package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curfew/internal/secret"
)

func TestLogHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "daemon-1",
			level:   slog.LevelInfo,
			message: "policy converged",
			want:    "2024-06-15T14:30:45Z\tINFO\tdaemon-1\tpolicy converged\n",
		},
		{
			name:    "debug level",
			opID:    "daemon-2",
			level:   slog.LevelDebug,
			message: "policy unchanged",
			want:    "2024-06-15T14:30:45Z\tDEBUG\tdaemon-2\tpolicy unchanged\n",
		},
		{
			name:    "with record attrs",
			opID:    "daemon-3",
			level:   slog.LevelWarn,
			message: "tick failed",
			attrs:   []slog.Attr{slog.String("loop", "usage"), slog.Int("streak", 2)},
			want:    "2024-06-15T14:30:45Z\tWARN\tdaemon-3\ttick failed\tloop=usage\tstreak=2\n",
		},
		{
			name:    "tabs in values are flattened",
			opID:    "daemon-4",
			level:   slog.LevelError,
			message: "write failed",
			attrs:   []slog.Attr{slog.String("error", "a\tb")},
			want:    "2024-06-15T14:30:45Z\tERROR\tdaemon-4\twrite failed\terror=a b\n",
		},
		{
			name:    "redacted credential",
			opID:    "daemon-5",
			level:   slog.LevelInfo,
			message: "credential sealed",
			attrs:   []slog.Attr{slog.Any("credential", secret.NewRedacted("hunter2"))},
			want:    "2024-06-15T14:30:45Z\tINFO\tdaemon-5\tcredential sealed\tcredential=[redacted]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &logHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLogHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &logHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "policy")}).(*logHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "applied", 0)
	r.AddAttrs(slog.String("target", "chromium"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=policy") {
		t.Errorf("expected pre-set attr component=policy, got: %q", got)
	}
	if !strings.Contains(got, "target=chromium") {
		t.Errorf("expected record attr target=chromium, got: %q", got)
	}
}

func TestLogHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &logHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*logHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLogHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Leveler
		check slog.Level
		want  bool
	}{
		{"nil level enables all", nil, slog.LevelDebug, true},
		{"info drops debug", slog.LevelInfo, slog.LevelDebug, false},
		{"info keeps info", slog.LevelInfo, slog.LevelInfo, true},
		{"warn drops info", slog.LevelWarn, slog.LevelInfo, false},
		{"warn keeps error", slog.LevelWarn, slog.LevelError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &logHandler{level: tt.level}
			if got := h.Enabled(context.Background(), tt.check); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", "warn")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("dropped")
	logger.Warn("kept", "target", "firefox")

	data, err := os.ReadFile(filepath.Join(dir, "curfew.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got := string(data)
	if strings.Contains(got, "dropped") {
		t.Errorf("info record written at warn level: %q", got)
	}
	if !strings.Contains(got, "\tWARN\ttest-op\tkept\ttarget=firefox\n") {
		t.Errorf("log file = %q, want the warn record", got)
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, _, err := newLogger(t.TempDir(), "op", "loud"); err == nil {
		t.Error("newLogger() error = nil, want error")
	}
}
