// Package logrus adapts a *logrus.Entry to tiercache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tiercache"
)

var _ tiercache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l; nil uses logrus.StandardLogger().
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: logrus.NewEntry(l)}
}

func (l Logger) Debug(msg string, f tiercache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f tiercache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f tiercache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f tiercache.Fields) { l.entry(f).Error(msg) }

// entry maps the "err" field onto logrus' error key.
func (l Logger) entry(f tiercache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
