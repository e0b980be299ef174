// Package temporal runs triage turns as Temporal workflows.
package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter routes Temporal SDK logs to zap.
type ZapAdapter struct {
	logger *zap.Logger
}

var _ log.WithLogger = (*ZapAdapter)(nil)

func NewZapAdapter(logger *zap.Logger) log.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.Named("temporal")}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.emit(zapcore.DebugLevel, msg, keyvals)
}
func (z *ZapAdapter) Info(msg string, keyvals ...interface{}) {
	z.emit(zapcore.InfoLevel, msg, keyvals)
}
func (z *ZapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.emit(zapcore.WarnLevel, msg, keyvals)
}
func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) {
	z.emit(zapcore.ErrorLevel, msg, keyvals)
}

// With returns a logger carrying keyvals on every entry.
func (z *ZapAdapter) With(keyvals ...interface{}) log.Logger {
	return &ZapAdapter{logger: z.logger.With(fields(keyvals)...)}
}

// emit skips field conversion when the level is disabled. The SDK logs
// every poll at debug.
func (z *ZapAdapter) emit(lvl zapcore.Level, msg string, keyvals []interface{}) {
	if ce := z.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields(keyvals)...)
	}
}

// fields pairs up keyvals. Non-string keys and a trailing odd value are dropped.
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			out = append(out, safeField(key, keyvals[i+1]))
		}
	}
	return out
}

// safeField avoids zap.Any on kinds it cannot encode.
func safeField(key string, val interface{}) (field zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			field = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()
	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, "<"+reflect.TypeOf(val).Kind().String()+">")
	default:
		return zap.Any(key, val)
	}
}
