package base

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the level vocabulary the original
// base/log.h used (verbose/debug/info/warning/error/fatal), so call
// sites read the same way the teacher's logging call sites do.
type Logger struct {
	z    zerolog.Logger
	exit func(code int)
}

// NewLogger builds a Logger writing leveled, structured events to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		z:    zerolog.New(w).With().Timestamp().Logger(),
		exit: os.Exit,
	}
}

// NopLogger returns a Logger that discards everything, for callers that
// don't care to wire one up (tests, one-off tools).
func NopLogger() *Logger {
	return &Logger{z: zerolog.Nop(), exit: func(int) {}}
}

// With returns a Logger that attaches the given key/value pair to every
// subsequent event, mirroring a per-connection or per-call log context.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger(), exit: l.exit}
}

func (l *Logger) Verbose() *zerolog.Event { return l.z.Trace() }
func (l *Logger) Debug() *zerolog.Event   { return l.z.Debug() }
func (l *Logger) Info() *zerolog.Event    { return l.z.Info() }
func (l *Logger) Warn() *zerolog.Event    { return l.z.Warn() }
func (l *Logger) Error() *zerolog.Event   { return l.z.Error() }

// Fatal logs at error level then terminates the process (or calls the
// test-overridable exit function), matching the original's LOG(FATAL).
func (l *Logger) Fatal(msg string, err error) {
	ev := l.z.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
	l.exit(1)
}

// SetExitFunc overrides the function Fatal calls, for tests that need to
// observe a fatal without killing the process.
func (l *Logger) SetExitFunc(fn func(code int)) { l.exit = fn }
