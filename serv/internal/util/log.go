// Package util holds small helpers shared by the service layer.
package util

import (
	"os"
	"time"

	"github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// shortTimeEncoder encodes time in HH:MM:SS format for cleaner console output
func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

// NewLogger creates the service logger. In production logs are JSON at
// info level; otherwise a human-readable console encoder at debug level.
func NewLogger(production bool) *zap.Logger {
	var core zapcore.Core

	if production {
		econf := zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "logger",
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), os.Stdout, zap.InfoLevel)
	} else {
		pcfg := prettyconsole.NewEncoderConfig()
		pcfg.EncodeTime = shortTimeEncoder
		core = zapcore.NewCore(prettyconsole.NewEncoder(pcfg), os.Stdout, zap.DebugLevel)
	}
	return zap.New(core)
}
