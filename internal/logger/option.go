package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// scopedLevelCore overrides the level of the core it wraps, so one named
// logger (the pipeline in debug runs) can log below the global level.
type scopedLevelCore struct {
	zapcore.Core

	// threshold replaces the wrapped core's level.
	threshold zapcore.Level
}

// Enabled reports whether lvl passes the scoped threshold.
func (c *scopedLevelCore) Enabled(lvl zapcore.Level) bool {
	return c.threshold.Enabled(lvl)
}

// Check registers the scoped core for entries at or above the threshold.
// Writes go straight to the wrapped core, skipping its own level check.
//
//nolint:gocritic // AddCore takes the entry by value.
func (c *scopedLevelCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return checked
	}

	return checked.AddCore(entry, c)
}

// With keeps the threshold on child loggers carrying extra fields.
//
//nolint:ireturn,nolintlint // zap composes cores through the interface.
func (c *scopedLevelCore) With(fields []zapcore.Field) zapcore.Core {
	return &scopedLevelCore{
		Core:      c.Core.With(fields),
		threshold: c.threshold,
	}
}

// WithLevel returns an option that makes a derived logger use lvl instead of
// the level of its parent. Pair it with WithOptions to scope it to a context.
//
//nolint:ireturn,nolintlint // zap.Option is what WithOptions accepts.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &scopedLevelCore{Core: core, threshold: lvl}
	})
}
