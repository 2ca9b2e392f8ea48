package logsink

import (
	"fmt"
	"io"
	"time"

	"github.com/pion/logging"
)

// DefaultCapacity is the buffer size used when none is configured.
const DefaultCapacity = 1000

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// Capacity of the ring buffer. Default: DefaultCapacity.
	Capacity int

	// Level is the lowest level recorded in the buffer.
	// Default: logging.LogLevelInfo.
	Level logging.LogLevel

	// Writer receives the formatted log output. Default: os.Stdout through
	// the pion default logger; io.Discard silences it.
	Writer io.Writer

	// OutputLevel is the lowest level written to Writer.
	// Default: logging.LogLevelInfo.
	OutputLevel logging.LogLevel

	// Now returns the entry timestamp. Default: time.Now.
	Now func() time.Time
}

// Factory creates loggers that feed a shared Buffer.
type Factory struct {
	config FactoryConfig
	next   *logging.DefaultLoggerFactory
	buffer *Buffer
}

// NewFactory creates a Factory.
func NewFactory(config FactoryConfig) *Factory {
	if config.Level == logging.LogLevelDisabled {
		config.Level = logging.LogLevelInfo
	}
	if config.OutputLevel == logging.LogLevelDisabled {
		config.OutputLevel = logging.LogLevelInfo
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	next := logging.NewDefaultLoggerFactory()
	next.DefaultLogLevel = config.OutputLevel
	if config.Writer != nil {
		next.Writer = config.Writer
	}
	return &Factory{
		config: config,
		next:   next,
		buffer: NewBuffer(config.Capacity),
	}
}

// Buffer returns the shared entry buffer.
func (f *Factory) Buffer() *Buffer {
	return f.buffer
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &logger{
		scope: scope,
		f:     f,
		next:  f.next.NewLogger(scope),
	}
}

type logger struct {
	scope string
	f     *Factory
	next  logging.LeveledLogger
}

func (l *logger) record(level logging.LogLevel, msg string) {
	if level > l.f.config.Level {
		return
	}
	l.f.buffer.Add(Entry{
		Time:    l.f.config.Now(),
		Scope:   l.scope,
		Level:   level,
		Message: msg,
	})
}

func (l *logger) Trace(msg string) {
	l.next.Trace(msg)
	l.record(logging.LogLevelTrace, msg)
}

func (l *logger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *logger) Debug(msg string) {
	l.next.Debug(msg)
	l.record(logging.LogLevelDebug, msg)
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *logger) Info(msg string) {
	l.next.Info(msg)
	l.record(logging.LogLevelInfo, msg)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *logger) Warn(msg string) {
	l.next.Warn(msg)
	l.record(logging.LogLevelWarn, msg)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *logger) Error(msg string) {
	l.next.Error(msg)
	l.record(logging.LogLevelError, msg)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Verify Factory implements logging.LoggerFactory.
var _ logging.LoggerFactory = (*Factory)(nil)
