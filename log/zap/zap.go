// Package zap adapts a *zap.Logger to pagequery.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/pagequery"
	"go.uber.org/zap"
)

var _ pagequery.Logger = Logger{}

// Logger forwards to L, which defaults to a no-op logger.
type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("pagequery")}
}

func (z Logger) Debug(msg string, f pagequery.Fields) { z.logger().Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f pagequery.Fields)  { z.logger().Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f pagequery.Fields)  { z.logger().Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f pagequery.Fields) { z.logger().Error(msg, fields(f)...) }

func (z Logger) logger() *zap.Logger {
	if z.L == nil {
		return zap.NewNop()
	}
	return z.L
}

// fields sorts by name so output is stable across runs.
func fields(f pagequery.Fields) []zap.Field {
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
