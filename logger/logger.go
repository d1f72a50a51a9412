package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	mu           sync.RWMutex
	globalLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	openFiles    []*os.File
)

type Config struct {
	Level   string   `json:"level" yaml:"level" mapstructure:"level"`       // debug/info/warn/error
	Format  string   `json:"format" yaml:"format" mapstructure:"format"`    // text/json
	Outputs []string `json:"outputs" yaml:"outputs" mapstructure:"outputs"` // stdout/stderr/file path
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from cfg. Files opened for outputs are returned so the
// caller can close them.
func New(cfg Config) (*slog.Logger, []*os.File, error) {
	var writers []io.Writer
	var files []*os.File
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				closeAll(files)
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeAll(files)
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			files = append(files, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	return NewWithWriter(cfg, io.MultiWriter(writers...)), files, nil
}

// NewWithWriter builds a logger that writes to w, ignoring cfg.Outputs.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Init replaces the global logger. Files held by a previous Init are closed.
func Init(cfg Config) error {
	l, files, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	closeAll(openFiles)
	globalLogger = l
	openFiles = files
	return nil
}

// Sync closes any log files opened by Init.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	closeAll(openFiles)
	openFiles = nil
}

func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
