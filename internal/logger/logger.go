// Package logger is the structured logger used across the bot, a thin layer
// over charmbracelet/log with typed fields and Telegram request ids.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level is a charmbracelet/log level
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// ParseLevel parses a level name, falling back to info
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := log.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	return level
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the main logger interface
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// Config holds logger configuration
type Config struct {
	Level      Level
	Format     string // "json", "logfmt" or "text"
	Output     io.Writer
	TimeFormat string
	AppName    string
}

type logger struct {
	charm *log.Logger
}

// New creates a new logger instance
func New(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.Kitchen
	}

	charm := log.NewWithOptions(cfg.Output, log.Options{
		Level:           cfg.Level,
		ReportCaller:    cfg.Level <= LevelDebug,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Prefix:          cfg.AppName,
		Formatter:       formatter(cfg.Format),
		CallerOffset:    1, // skip the wrapper frame
	})

	return &logger{charm: charm}
}

func formatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// NewDefault creates a logger with default configuration
func NewDefault() Logger {
	return New(Config{Level: LevelInfo, Format: "text"})
}

// NewNop returns a logger that discards everything. Fatal still exits.
func NewNop() Logger {
	return New(Config{Level: LevelFatal, Output: io.Discard})
}

// OpenOutput resolves an output spec: "stdout", "stderr" or a file path
// opened for appending. The returned closer is a no-op for the std streams.
func OpenOutput(spec string) (io.Writer, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "stdout":
		return os.Stdout, func() error { return nil }, nil
	case "stderr":
		return os.Stderr, func() error { return nil }, nil
	}

	f, err := os.OpenFile(spec, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", spec, err)
	}
	return f, f.Close, nil
}

func keyvals(fields []Field) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

func (l *logger) Debug(msg string, fields ...Field) { l.charm.Debug(msg, keyvals(fields)...) }
func (l *logger) Info(msg string, fields ...Field)  { l.charm.Info(msg, keyvals(fields)...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.charm.Warn(msg, keyvals(fields)...) }
func (l *logger) Error(msg string, fields ...Field) { l.charm.Error(msg, keyvals(fields)...) }

// Fatal logs a fatal message and exits
func (l *logger) Fatal(msg string, fields ...Field) { l.charm.Fatal(msg, keyvals(fields)...) }

// With returns a child logger that prefixes every line with fields
func (l *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &logger{charm: l.charm.With(keyvals(fields)...)}
}

type contextKey int

const (
	requestIDKey contextKey = iota
	updateIDKey
	chatIDKey
)

// WithContext attaches the request, update and chat ids carried by ctx
func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if v := ctx.Value(requestIDKey); v != nil {
		fields = append(fields, F("request_id", v))
	}
	if v := ctx.Value(updateIDKey); v != nil {
		fields = append(fields, F("update_id", v))
	}
	if v := ctx.Value(chatIDKey); v != nil {
		fields = append(fields, F("chat_id", v))
	}
	return l.With(fields...)
}

// ContextWithRequestID tags ctx with a request id
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithUpdateID tags ctx with the Telegram update id
func ContextWithUpdateID(ctx context.Context, updateID int) context.Context {
	return context.WithValue(ctx, updateIDKey, updateID)
}

// ContextWithChatID tags ctx with the Telegram chat id
func ContextWithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKey, chatID)
}

var global = NewDefault()

// SetGlobal replaces the package-level logger
func SetGlobal(l Logger) {
	global = l
}

// Global returns the package-level logger
func Global() Logger {
	return global
}

func Debug(msg string, fields ...Field) { global.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { global.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { global.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { global.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { global.Fatal(msg, fields...) }
