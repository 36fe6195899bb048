// Package logging is the ambient logging surface every other package in
// this module accepts rather than importing directly, adapted from the
// teacher's definition.Logger/DefaultLogger pair (pkg/mcast/definition):
// the same Info/Warn/Error/Debug shape (there is no Fatal), with a real
// implementation swappable for a silent one. A nil Logger is not callable;
// broker.New and session.New substitute Noop() for nil. The default is backed
// by logrus instead of the standard library's log.Logger so that structured
// fields (role, label, kind) travel with every line.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every package in this module logs through. It
// never needs a context argument: none of the log calls in this module
// are on a path a caller can cancel, they only annotate it.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})

	// WithFields returns a Logger that includes the given structured
	// fields (role, label, and similar) on every subsequent call.
	WithFields(fields map[string]interface{}) Logger
}

// logrusLogger adapts *logrus.Entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefault returns the default Logger: logrus, text formatter, writing
// to stderr at info level, matching the teacher's NewDefaultLogger default
// of "stderr, no debug".
func NewDefault() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// New wraps a caller-supplied *logrus.Logger, for applications that already
// have one configured (output, level, hooks) and want this module's log
// lines to share it.
func New(base *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Noop is a Logger that discards everything, for tests that don't want log
// output interleaved with -v, mirroring the teacher's test/testing.go
// pattern of a silent logger for test fixtures.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (n noopLogger) WithFields(map[string]interface{}) Logger { return n }
