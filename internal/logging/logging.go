// Package logging builds the zap loggers used across the simulator.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for the logger.
type Config struct {
	Level    string // debug, info, warn or error
	Encoding string // console or json
	Output   string // file path; empty means stderr
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New creates a logger with the given configuration.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	out := "stderr"
	if cfg.Output != "" {
		out = cfg.Output
	}

	enc := encoderConfig()
	if cfg.Encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Encoding:         cfg.Encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{out},
		ErrorOutputPaths: []string{"stderr"},
	}
	return config.Build()
}

// NewWriter logs JSON to w. Used where output has to be captured.
func NewWriter(w io.Writer, level string) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		ParseLevel(level),
	)
	return zap.New(core)
}

func Nop() *zap.Logger {
	return zap.NewNop()
}

// ParseLevel converts a level name to a zapcore level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
