package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Binaries and tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Streams splits component logging into three levels:
//   - ops: actionable failures and dropped frames
//   - diag: state transitions and tuning context
//   - trace: per-frame telemetry
//
// A nil Streams or a nil stream is silent.
type Streams struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreams builds Streams writing with prefix. Pass nil for any writer to
// disable that stream.
func NewStreams(prefix string, ops, diag, trace io.Writer) *Streams {
	return &Streams{
		ops:   newLogger(prefix, ops),
		diag:  newLogger(prefix, diag),
		trace: newLogger(prefix, trace),
	}
}

// SingleStream routes all three levels to one writer.
func SingleStream(prefix string, w io.Writer) *Streams {
	return NewStreams(prefix, w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	// The prefix sits after the timestamp, next to the message.
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	if s != nil && s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	if s != nil && s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	if s != nil && s.trace != nil {
		s.trace.Printf(format, args...)
	}
}

// TraceEnabled reports whether trace output is wired, so callers can skip
// building expensive trace lines.
func (s *Streams) TraceEnabled() bool {
	return s != nil && s.trace != nil
}
