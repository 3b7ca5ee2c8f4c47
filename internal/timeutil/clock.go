// Package timeutil abstracts the wall clock so frame pacing and latency
// accounting can be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is what the runner, recorder and simulator read time from.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable periodic tick source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// MockClock only moves when Advance is called. Tickers created from it
// fire during Advance; ticks the receiver has not drained are coalesced
// into one, as with time.Ticker.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*mockTicker
}

// NewMockClock returns a clock stopped at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

// Advance moves the clock by d and delivers any ticks that fell due.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	live := m.pending[:0]
	var due []*mockTicker
	for _, tk := range m.pending {
		if tk.stopped() {
			continue
		}
		live = append(live, tk)
		due = append(due, tk)
	}
	m.pending = live
	m.mu.Unlock()

	for _, tk := range due {
		tk.tick(now)
	}
}

// NewTicker returns a ticker whose first tick is due d after Now.
func (m *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &mockTicker{c: make(chan time.Time, 1), period: d, due: m.now.Add(d)}
	m.pending = append(m.pending, tk)
	return tk
}

type mockTicker struct {
	c      chan time.Time
	period time.Duration

	mu   sync.Mutex
	due  time.Time
	done bool
}

func (t *mockTicker) C() <-chan time.Time { return t.c }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *mockTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *mockTicker) tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || now.Before(t.due) {
		return
	}
	for !t.due.After(now) {
		t.due = t.due.Add(t.period)
	}
	select {
	case t.c <- now:
	default:
	}
}
