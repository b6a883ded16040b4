// Package logging provides simple configuration for slog loggers.
// It normalizes user log-level strings, optionally mirrors output into a
// log file, and reads that file back for the admin log view.
package logging

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseLevel normalizes a log level string into slog.Level.
// Unknown values return slog.LevelInfo with an error.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level")
	}
}

// Options controls logger formatting and defaults.
// Writer defaults to stderr when not provided. When File is set, every
// record is also appended to that file.
type Options struct {
	Level       string
	AddSource   bool
	JSON        bool
	Writer      io.Writer
	File        string
	DefaultSlog bool
}

// Logger bundles the slog.Logger with the resources it owns.
type Logger struct {
	*slog.Logger
	Level slog.Level
	file  *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// New constructs a configured logger.
// When DefaultSlog is true, slog.SetDefault is called.
func New(opt Options) (*Logger, error) {
	level, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, err
	}
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	out := &Logger{Level: level}
	if opt.File != "" {
		if err := os.MkdirAll(filepath.Dir(opt.File), 0o700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opt.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		out.file = f
		w = io.MultiWriter(w, f)
	}
	lo := &slog.HandlerOptions{
		Level:     level,
		AddSource: opt.AddSource || level == slog.LevelDebug,
	}

	var h slog.Handler
	if opt.JSON {
		h = slog.NewJSONHandler(w, lo)
	} else {
		h = slog.NewTextHandler(w, lo)
	}
	out.Logger = slog.New(h)
	if opt.DefaultSlog {
		slog.SetDefault(out.Logger)
	}
	return out, nil
}

// Tail returns up to n of the last lines in path, oldest first.
// A missing file yields no lines.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	return ring, sc.Err()
}
