// Package logging provides the process-wide logging facility every
// component logs through. It wraps logrus the way the teacher corpus wraps
// its own logging library behind a small leveled interface, so plugins
// never import logrus directly.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the contract every component logs through. It mirrors the
// shape of a typed, leveled logger: one formatted method per level, plus a
// With that attaches structured fields for the lifetime of the returned
// logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields map[string]interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the root Logger. dest is "stdout", "stderr", or a file path;
// level is one of "debug", "info", "warn", "error" (default "info").
func New(dest, level string) (Logger, error) {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	var out io.Writer
	switch dest {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}
	base.SetOutput(out)

	lvl, err := logrus.ParseLevel(orDefault(level, "info"))
	if err != nil {
		return nil, err
	}
	base.SetLevel(lvl)

	return &logrusLogger{entry: logrus.NewEntry(base)}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) With(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}

// Discard returns a Logger that drops everything, for use in tests.
func Discard() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(base)}
}
