package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWriter_Streams(t *testing.T) {
	if w := newWriter(Config{Output: "stderr"}); w != os.Stderr {
		t.Error("expected stderr writer")
	}
	if w := newWriter(Config{Output: "stdout"}); w != os.Stdout {
		t.Error("expected stdout writer")
	}
	if w := newWriter(Config{}); w != os.Stdout {
		t.Error("expected stdout writer for empty output")
	}
}

func TestNewRotatingWriter_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "x.log")
	w := newRotatingWriter(Config{Output: "file", FilePath: path})

	rotation, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", w)
	}
	if rotation.Filename != path {
		t.Errorf("expected filename %s, got %s", path, rotation.Filename)
	}
	if rotation.MaxSize != defaultMaxSizeMB || rotation.MaxBackups != defaultMaxBackups || rotation.MaxAge != defaultMaxAgeDays {
		t.Error("expected rotation defaults to be applied")
	}
}

func TestInitWithConfig(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	InitWithConfig(Config{Level: "warn", Format: "text"})
	if Log == nil {
		t.Fatal("expected logger to be set")
	}
	ctx := context.Background()
	if Log.Enabled(ctx, slog.LevelInfo) {
		t.Error("info must be disabled at warn level")
	}
	if !Log.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn must be enabled at warn level")
	}
}
