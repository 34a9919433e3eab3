package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skobkin/roomsync/internal/config"
)

// Manager owns app logger configuration and optional log file lifecycle.
// Loggers handed out by Logger follow later Configure calls.
type Manager struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	level   slog.LevelVar
	root    *swapHandler
}

// NewManager logs to console, or to stderr when console is nil. Stdout is
// left to the interactive client.
func NewManager(console io.Writer) *Manager {
	if console == nil {
		console = os.Stderr
	}
	m := &Manager{console: console}
	m.level.Set(slog.LevelInfo)
	m.root = newSwapHandler(slog.NewTextHandler(console, &slog.HandlerOptions{Level: &m.level}))

	return m
}

func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch format {
	case config.LogFormatJSON, config.LogFormatText, "":
	default:
		return fmt.Errorf("unsupported log format: %q", cfg.Format)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	writer := m.console
	var file *os.File
	if cfg.LogToFile {
		cleanPath := filepath.Clean(filePath)
		// #nosec G304 -- path is resolved by app runtime and points to user config dir.
		file, err = os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		writer = newFanoutWriter(m.console, file)
	}

	opts := &slog.HandlerOptions{Level: &m.level}
	var h slog.Handler
	if format == config.LogFormatJSON {
		h = slog.NewJSONHandler(writer, opts)
	} else {
		h = slog.NewTextHandler(writer, opts)
	}
	m.level.Set(level)
	m.root.swap(h)
	if m.file != nil {
		_ = m.file.Close()
	}
	m.file = file
	slog.SetDefault(slog.New(m.root))

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	return slog.New(m.root).With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}

	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter keeps writing to the remaining destinations when one fails.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var firstErr error
	wrote := 0
	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
		case n != len(p):
			err = io.ErrShortWrite
		default:
			wrote++

			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if wrote > 0 || firstErr == nil {
		return len(p), nil
	}

	return 0, firstErr
}
