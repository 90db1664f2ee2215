// Package logging provides a simple wrapper around slog to initialize the logger with the given configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var errInvalidLevel = fmt.Errorf("invalid log level, must be one of: debug, info, warn, error")
var errInvalidHandler = fmt.Errorf("invalid handler")
var errInvalidSettings = fmt.Errorf("invalid logging settings")

// Config defines the configuration for the logger.
type Config struct {
	Level   string `yaml:"level"`
	Handler string `yaml:"handler"`

	// File sends logs to a size-rotated file instead of stderr.
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"maxSize"` // megabytes
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"` // days
}

// LogValue hides rotation settings when logging to stderr.
func (c Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("level", c.Level),
		slog.String("handler", c.Handler),
	}
	if c.File != "" {
		attrs = append(attrs, slog.String("file", c.File))
	}
	return slog.GroupValue(attrs...)
}

func levelFromString(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w. got %s", errInvalidLevel, level)
	}
}

func handlerFromString(handler string) (func(io.Writer, *slog.HandlerOptions) slog.Handler, error) {
	switch handler {
	case "text", "":
		return func(w io.Writer, opts *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, opts) }, nil
	case "json":
		return func(w io.Writer, opts *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, opts) }, nil
	default:
		return nil, fmt.Errorf("%w: %s", errInvalidHandler, handler)
	}
}

func (c *Config) writer() io.Writer {
	if c.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// Initialize initializes the logger with the given logging configuration.
func (c *Config) Initialize() error {
	var opts slog.HandlerOptions
	level, err := levelFromString(c.Level)
	if err != nil {
		return fmt.Errorf("%w: %s", errInvalidSettings, err)
	}
	opts.Level = level

	handler, err := handlerFromString(c.Handler)
	if err != nil {
		return fmt.Errorf("%w: %s", errInvalidSettings, err)
	}
	slog.SetDefault(slog.New(handler(c.writer(), &opts)))

	return nil
}
