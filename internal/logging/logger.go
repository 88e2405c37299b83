// Package logging builds the zap loggers used across Crucible. The daemon
// logs structured JSON to .crucible/logs/crucible.log and human-readable
// lines to stderr; development mode turns on debug-level diagnostics such as
// dropped-event reports from the observer mapper.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates the process logger. projectDir anchors the log directory;
// development selects console encoding and debug level.
func New(projectDir string, development bool) (*zap.Logger, error) {
	logDir := filepath.Join(projectDir, ".crucible", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	logPath := filepath.Join(logDir, "crucible.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level)
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), level)

	return zap.New(zapcore.NewTee(fileCore, consoleCore)), nil
}
