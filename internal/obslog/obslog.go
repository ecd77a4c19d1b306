// Package obslog provides the structured logging conventions used across
// the engine: one line per state-machine transition at Debug, one line per
// terminal outcome at Info/Warn, always carrying the same field set so log
// lines for a given fingerprint can be grepped together.
package obslog

import (
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry pre-populated with the fields every engine
// log line carries.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger. A nil *logrus.Logger falls back to
// logrus.StandardLogger().
func New(base *logrus.Logger) *Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a derived Logger carrying the given executor kind and
// fingerprint on every subsequent line.
func (l *Logger) With(kind, fingerprint string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{
		"kind":        kind,
		"fingerprint": fingerprint,
	})}
}

// Transition logs a state-machine move at Debug level.
func (l *Logger) Transition(phase, event string) {
	l.entry.WithFields(logrus.Fields{
		"phase": phase,
		"event": event,
	}).Debug("engine transition")
}

// Done logs a successful terminal outcome at Info level.
func (l *Logger) Done(path string) {
	l.entry.WithField("path", path).Info("execute done")
}

// Failed logs a terminal failure at Warn level.
func (l *Logger) Failed(phase string, err error) {
	l.entry.WithFields(logrus.Fields{
		"phase": phase,
		"error": err,
	}).Warn("execute failed")
}
