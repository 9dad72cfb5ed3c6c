// Package logx builds the daemon's zerolog logger from configuration.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects log sinks and level.
type Config struct {
	Level   string
	Console bool
	// File, if set, receives JSON lines.
	File string
}

// Logger is the built logger plus the resources it holds open.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New creates a logger writing to the console and/or a JSON file.
// With no sink configured it falls back to the console.
func New(cfg Config) (*Logger, error) {
	return newWithConsole(cfg, os.Stderr)
}

func newWithConsole(cfg Config, console io.Writer) (*Logger, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	var (
		writers []io.Writer
		file    *os.File
	)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: consoleTimeFormat})
	}
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: consoleTimeFormat})
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	zl := zerolog.New(w).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return &Logger{Logger: zl, file: file}, nil
}

// NewConsole creates a console-only logger for bootstrapping, before the
// config file is read.
func NewConsole(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).Level(ParseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
