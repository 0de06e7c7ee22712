// Package zap adapts a *zap.Logger to tiercache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Logger = Logger{}

// Logger forwards to L. A nil L logs nothing.
type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger { return Logger{L: l} }

func (z Logger) Debug(msg string, f tiercache.Fields) {
	if z.L != nil {
		z.L.Debug(msg, fields(f)...)
	}
}

func (z Logger) Info(msg string, f tiercache.Fields) {
	if z.L != nil {
		z.L.Info(msg, fields(f)...)
	}
}

func (z Logger) Warn(msg string, f tiercache.Fields) {
	if z.L != nil {
		z.L.Warn(msg, fields(f)...)
	}
}

func (z Logger) Error(msg string, f tiercache.Fields) {
	if z.L != nil {
		z.L.Error(msg, fields(f)...)
	}
}

// fields converts in key order so output is stable. Errors become
// zap.NamedError to keep their structured form.
func fields(f tiercache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
