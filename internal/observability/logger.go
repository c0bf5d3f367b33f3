// Package observability owns the process-wide loggers.
package observability

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

var (
	mu sync.Mutex

	// CLILogger writes human-oriented output to stderr.
	CLILogger = zap.NewNop()

	// ServerLogger writes JSON records for the HTTP service and the
	// orchestration core.
	ServerLogger = zap.NewNop()
)

// Init rebuilds both loggers for level ("debug", "info", "warn", "error")
// and profile. An unknown profile falls back to structured.
func Init(level, profile string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	cli, err := newLogger(lvl, ProfileConsole)
	if err != nil {
		return err
	}
	srv, err := newLogger(lvl, profile)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
	CLILogger = cli
	ServerLogger = srv
	return nil
}

// ParseLevel maps a level name onto a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

func newLogger(lvl zapcore.Level, profile string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.TimeKey = ""
		cfg.DisableStacktrace = true
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Sync flushes both loggers.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
