package bookie

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface a Client can be configured with. The
// shape mirrors the teacher's logging interface so callers supplying
// their own adapter only need these thirteen methods.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warn(v ...interface{})
	Warnf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// WithPeer returns a Logger that tags every subsequent line with the
	// peer address, so log lines from concurrently-active clients can be
	// told apart.
	WithPeer(addr PeerAddress) Logger
}

// DefaultLogger is the Logger used when a Client is not given one. It is
// backed by logrus instead of the stdlib logger, carrying structured
// fields rather than only formatted strings.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a DefaultLogger on a new logrus logger (not
// logrus's standard logger) at info level.
func NewDefaultLogger() *DefaultLogger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: logrus.NewEntry(base)}
}

func (l *DefaultLogger) WithPeer(addr PeerAddress) Logger {
	return &DefaultLogger{entry: l.entry.WithField("peer", string(addr))}
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debug(v ...interface{})                { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) { l.entry.Panicf(format, v...) }
