package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// redactingCore scrubs sensitive keys and values before they reach the
// wrapped core, so every logger derived from it redacts, including the
// *zap.Logger handed to components.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(inner zapcore.Core) zapcore.Core {
	return &redactingCore{Core: inner}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveField(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	switch f.Type {
	case zapcore.StringType:
		if redacted := RedactSensitiveData(f.String); redacted != f.String {
			return zap.String(f.Key, redacted)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			msg := err.Error()
			if redacted := RedactSensitiveData(msg); redacted != msg {
				return zap.String(f.Key, redacted)
			}
		}
	}
	return f
}
