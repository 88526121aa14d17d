// Package logging provides the replication engine's logger. The call shape
// (Infof/Warnf/Errorf/Debugf, a process-wide Flush on exit)
// mirrors the teacher's cmn/nlog facade; the implementation underneath is
// go.uber.org/zap's leveled, structured core rather than a hand-rolled
// buffered file writer.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	base *zap.Logger
	sug  *zap.SugaredLogger
)

// Init sets up the process logger. level is one of zap's level names
// ("debug", "info", "warn", "error"); role/shipID are attached to every
// entry so multi-process log aggregation can tell ships apart.
func Init(level, mode, shipID string) {
	once.Do(func() {
		lvl := zapcore.InfoLevel
		_ = lvl.UnmarshalText([]byte(level))

		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder

		core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), lvl)
		fields := []zap.Field{zap.String("mode", mode)}
		if shipID != "" {
			fields = append(fields, zap.String("shipId", shipID))
		}
		base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(fields...)
		sug = base.Sugar()
	})
}

func ensure() {
	if sug == nil {
		Init("info", "replica", "")
	}
}

func Infof(format string, args ...any)  { ensure(); sug.Infof(format, args...) }
func Warnf(format string, args ...any)  { ensure(); sug.Warnf(format, args...) }
func Errorf(format string, args ...any) { ensure(); sug.Errorf(format, args...) }
func Debugf(format string, args ...any) { ensure(); sug.Debugf(format, args...) }

// With returns a child SugaredLogger carrying the given key/value pairs,
// for call sites that want structured fields instead of a formatted string.
func With(kv ...any) *zap.SugaredLogger {
	ensure()
	return sug.With(kv...)
}

// Flush syncs buffered log entries; call on shutdown.
func Flush() {
	if base != nil {
		_ = base.Sync()
	}
}
