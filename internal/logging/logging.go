// Package logging builds the supervisor's zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// Format of the primary sink: console (default) or json.
	Format string
	// File, if set, also receives JSON logs. Parent dirs are created.
	File string
	// Writer is the primary sink. Defaults to stderr so stdout stays free
	// for machine-readable output.
	Writer io.Writer
}

// New returns a logger and a function that flushes and closes its sinks.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var primary zapcore.Encoder
	switch orDefault(opts.Format, "console") {
	case "console":
		primary = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	case "json":
		primary = zapcore.NewJSONEncoder(jsonEncoderConfig())
	default:
		return nil, nil, fmt.Errorf("log format %q: want console or json", opts.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(primary, zapcore.Lock(zapcore.AddSync(w)), level),
	}

	closers := []func(){}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		closers = append(closers, func() { _ = f.Close() })
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.Lock(f), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
	return logger, cleanup, nil
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.CallerKey = zapcore.OmitKey
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
