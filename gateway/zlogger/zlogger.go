// Package zlogger adapts zerolog to gateway.Logger, and mints per-attempt
// correlation ids with rs/xid so a single reconnect sequence's log lines
// can be grepped out of an otherwise interleaved stream.
package zlogger

import (
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/kestrelhq/wsgateway/gateway"
)

// Logger adapts a zerolog.Logger to gateway.Logger.
type Logger struct {
	z zerolog.Logger
}

// New wraps z.
func New(z zerolog.Logger) *Logger {
	return &Logger{z: z}
}

// WithAttempt returns a derived Logger carrying a fresh correlation id,
// suitable for passing to one ConnectionRunner attempt.
func (l *Logger) WithAttempt() *Logger {
	return &Logger{z: l.z.With().Str("attempt_id", xid.New().String()).Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.event(l.z.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.event(l.z.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.event(l.z.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.event(l.z.Error(), msg, kv) }

func (l *Logger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

var _ gateway.Logger = (*Logger)(nil)
