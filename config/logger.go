package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/ffi-bridge/errors"
)

// ParseLevel parses a log level. The empty string and "off" disable logging
// and return zapcore.InvalidLevel.
func ParseLevel(s string) (level zapcore.Level, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return zapcore.InvalidLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InvalidLevel, errors.Config(fmt.Sprintf("invalid log level %q", s), nil)
}

// NewLogger returns a development console logger writing to stderr at
// level, or a no-op logger when level is empty.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if lvl == zapcore.InvalidLevel {
		return zap.NewNop(), nil
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Config("build logger", err)
	}
	return l.Named("ffibridge"), nil
}
