// Package logging builds the zap loggers used across loadsctl.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the given level and format.
//
// format is "json" (production defaults) or "console" (colorized,
// human-friendly). level is any string accepted by zapcore.Level's
// UnmarshalText, e.g. "debug", "info", "warn", "error".
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q (want \"json\" or \"console\")", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}

// Nop returns a logger that discards everything, for use as a default
// in constructors that accept an optional *zap.Logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
