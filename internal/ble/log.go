package ble

// Logger is the logging interface used by the client. *zap.SugaredLogger
// satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NullLogger discards all messages.
type NullLogger struct{}

func (NullLogger) Debugf(format string, args ...interface{}) {}

func (NullLogger) Infof(format string, args ...interface{}) {}

func (NullLogger) Warnf(format string, args ...interface{}) {}

func (NullLogger) Errorf(format string, args ...interface{}) {}
