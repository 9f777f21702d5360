// Package loggers is the logging boundary of the runtime.
//
// Every diagnostic goes through one of four named channels (log, warn,
// error, debug). Each channel can be replaced independently, so a host can
// route errors to its own sink while leaving the others on slog.
package loggers

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/zap"
)

// Channel names a logging channel.
type Channel string

const (
	Log   Channel = "log"
	Warn  Channel = "warn"
	Error Channel = "error"
	Debug Channel = "debug"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{Log, Warn, Error, Debug}

// Func receives a message and slog-style key/value pairs.
type Func func(msg string, args ...any)

// Loggers holds the current function for each channel.
// Safe for concurrent use.
type Loggers struct {
	mu  sync.RWMutex
	fns map[Channel]Func
}

// New returns loggers that write to l. A nil l uses slog.Default().
func New(l *slog.Logger) *Loggers {
	return &Loggers{fns: FromSlog(l)}
}

// FromSlog maps each channel to the matching slog level.
func FromSlog(l *slog.Logger) map[Channel]Func {
	if l == nil {
		l = slog.Default()
	}
	at := func(level slog.Level) Func {
		return func(msg string, args ...any) {
			l.Log(context.Background(), level, msg, args...)
		}
	}
	return map[Channel]Func{
		Log:   at(slog.LevelInfo),
		Warn:  at(slog.LevelWarn),
		Error: at(slog.LevelError),
		Debug: at(slog.LevelDebug),
	}
}

// FromZap maps each channel to a zap sugared logger. zap's *w methods take
// the same alternating key/value pairs as slog.
func FromZap(z *zap.Logger) map[Channel]Func {
	s := z.Sugar()
	return map[Channel]Func{
		Log:   s.Infow,
		Warn:  s.Warnw,
		Error: s.Errorw,
		Debug: s.Debugw,
	}
}

// Set replaces the given channels. Channels not present in fns are left
// unchanged; a nil Func silences its channel.
func (l *Loggers) Set(fns map[Channel]Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch, fn := range fns {
		if fn == nil {
			fn = func(string, ...any) {}
		}
		l.fns[ch] = fn
	}
}

// Get returns the current function for a channel.
func (l *Loggers) Get(ch Channel) Func {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if fn, ok := l.fns[ch]; ok {
		return fn
	}
	return func(string, ...any) {}
}

// Snapshot returns a copy of the current channel table.
func (l *Loggers) Snapshot() map[Channel]Func {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Channel]Func, len(l.fns))
	for ch, fn := range l.fns {
		out[ch] = fn
	}
	return out
}

func (l *Loggers) Log(msg string, args ...any) { l.Get(Log)(msg, args...) }
func (l *Loggers) Warn(msg string, args ...any) { l.Get(Warn)(msg, args...) }
func (l *Loggers) Error(msg string, args ...any) { l.Get(Error)(msg, args...) }
func (l *Loggers) Debug(msg string, args ...any) { l.Get(Debug)(msg, args...) }
