package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestStreams(t *testing.T) {
	var ops, diag bytes.Buffer
	s := NewStreams("[awb] ", &ops, &diag, nil)

	s.Opsf("frame %d failed", 3)
	s.Diagf("state %s", "running")
	s.Tracef("dropped")

	if !strings.Contains(ops.String(), "[awb] frame 3 failed") {
		t.Errorf("ops = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "state running") {
		t.Errorf("diag = %q", diag.String())
	}
	if strings.HasPrefix(ops.String(), "[awb] ") {
		t.Errorf("prefix should follow the timestamp: %q", ops.String())
	}
	if s.TraceEnabled() {
		t.Error("trace should be disabled with a nil writer")
	}
}

func TestStreams_Nil(t *testing.T) {
	var s *Streams
	s.Opsf("x")
	s.Diagf("x")
	s.Tracef("x")
	if s.TraceEnabled() {
		t.Error("nil Streams reported trace enabled")
	}
}

func TestSingleStream(t *testing.T) {
	var buf bytes.Buffer
	s := SingleStream("[p] ", &buf)
	s.Opsf("a")
	s.Diagf("b")
	s.Tracef("c")
	if got := strings.Count(buf.String(), "[p] "); got != 3 {
		t.Errorf("got %d lines, want 3:\n%s", got, buf.String())
	}
}
