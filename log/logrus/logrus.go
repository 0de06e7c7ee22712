// Package logrus adapts a *logrus.Entry to tiercache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Logger = Logger{}

// Logger forwards to E. A nil E logs nothing.
type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) with(f tiercache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		e = e.WithField(k, v)
	}
	return e
}

func (l Logger) Debug(msg string, f tiercache.Fields) {
	if l.E != nil {
		l.with(f).Debug(msg)
	}
}

func (l Logger) Info(msg string, f tiercache.Fields) {
	if l.E != nil {
		l.with(f).Info(msg)
	}
}

func (l Logger) Warn(msg string, f tiercache.Fields) {
	if l.E != nil {
		l.with(f).Warn(msg)
	}
}

func (l Logger) Error(msg string, f tiercache.Fields) {
	if l.E != nil {
		l.with(f).Error(msg)
	}
}
