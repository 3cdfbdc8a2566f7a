// Package logging builds the service logger
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New
const (
	FormatECS    = "ecs"
	FormatPretty = "pretty"
)

// LevelSilent disables logging
const LevelSilent = "silent"

// Config selects the level and encoding
type Config struct {
	Level  string
	Format string
}

// New builds a logger writing to stderr. ecs gives one JSON object per line
// with ECS field names, pretty gives colored console output.
func New(cfg Config) (*zap.Logger, error) {
	name := strings.ToLower(cfg.Level)
	switch name {
	case LevelSilent:
		return zap.NewNop(), nil
	case "trace":
		name = "debug"
	}

	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case FormatECS:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig = ecsEncoderConfig()
	case FormatPretty, "pino-pretty", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func ecsEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "@timestamp",
		LevelKey:       "log.level",
		NameKey:        "log.logger",
		CallerKey:      "log.origin.file.name",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "error.stack_trace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
