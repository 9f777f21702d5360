package config

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/signalbox/internal/loggers"
)

// Loggers builds the runtime log channels described by the config, writing
// to w. The returned flush function must be called before exit.
func (c Config) Loggers(w io.Writer) (*loggers.Loggers, func()) {
	if c.LogBackend == "zap" {
		z := c.zapLogger(w)
		l := loggers.New(nil)
		l.Set(loggers.FromZap(z))
		return l, func() { _ = z.Sync() }
	}
	return loggers.New(c.SlogLogger(w)), func() {}
}

// SlogLogger returns a slog logger at the configured level and format.
func (c Config) SlogLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c Config) slogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) zapLogger(w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = ""
	var enc zapcore.Encoder
	if c.LogFormat == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))
}
