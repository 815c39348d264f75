// Package logger держит процессный slog-логгер мок-сервера.
// Вывод настраивается конфигурацией: stdout/stderr либо файл с ротацией.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger = slog.Default()

// Config конфигурация логгера
type Config struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Значения ротации, когда конфигурация их не задала
const (
	defaultFilePath   = "logs/protomock.log"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// Init инициализирует логгер с настройками по умолчанию
func Init(level string) {
	InitWithConfig(Config{Level: level})
}

// InitWithConfig инициализирует логгер с полной конфигурацией
func InitWithConfig(cfg Config) {
	Log = slog.New(newHandler(cfg))
}

func newHandler(cfg Config) slog.Handler {
	lvl := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// Источник пишем только на отладочном уровне
		AddSource: lvl == slog.LevelDebug,
	}

	writer := newWriter(cfg)
	if cfg.Format == "text" {
		return slog.NewTextHandler(writer, opts)
	}
	return slog.NewJSONHandler(writer, opts)
}

// parseLevel разбирает уровень; неизвестные строки дают info
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func newWriter(cfg Config) io.Writer {
	switch cfg.Output {
	case "stderr":
		return os.Stderr
	case "file":
		return newRotatingWriter(cfg)
	default:
		return os.Stdout
	}
}

// newRotatingWriter настраивает файловый вывод с ротацией lumberjack.
// Если каталог под лог создать не удалось, пишем в stdout.
func newRotatingWriter(cfg Config) io.Writer {
	path := cfg.FilePath
	if path == "" {
		path = defaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return os.Stdout
	}

	rotation := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if rotation.MaxSize <= 0 {
		rotation.MaxSize = defaultMaxSizeMB
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = defaultMaxBackups
	}
	if rotation.MaxAge <= 0 {
		rotation.MaxAge = defaultMaxAgeDays
	}
	return rotation
}

// WithComponent добавляет имя компонента
func WithComponent(component string) *slog.Logger {
	return Log.With("component", component)
}

// Debug логирует debug сообщение
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info логирует info сообщение
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn логирует warning сообщение
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error логирует error сообщение
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Fatal логирует fatal сообщение и завершает программу
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
