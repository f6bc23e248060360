// Package logrus adapts a *logrus.Entry to pagequery.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/pagequery"
)

var _ pagequery.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=pagequery.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: l.WithField("component", "pagequery")}
}

func (l Logger) Debug(msg string, f pagequery.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f pagequery.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f pagequery.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f pagequery.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f pagequery.Fields) *logrus.Entry {
	e := l.E
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	if len(f) == 0 {
		return e
	}
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return e.WithFields(rest)
	}
	return e.WithFields(logrus.Fields(f))
}
