// Package logging builds the structured loggers used by every component.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction
type Config struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Format      string `yaml:"format" mapstructure:"format"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// DefaultConfig returns info-level JSON logging
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// New builds a zap logger from the configuration
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	switch strings.ToLower(cfg.Format) {
	case "console":
		zc.Encoding = "console"
	case "", "json":
		zc.Encoding = "json"
	default:
		zc.Encoding = "json"
	}

	return zc.Build()
}

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Nop returns a logger that discards everything
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns logger, or a nop logger if logger is nil
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}
