package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since returned a negative duration")
	}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClockAdvance(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)
	if !c.Now().Equal(base) {
		t.Fatalf("Now() = %v, want %v", c.Now(), base)
	}
	c.Advance(33 * time.Millisecond)
	if got := c.Since(base); got != 33*time.Millisecond {
		t.Errorf("Since() = %v, want 33ms", got)
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(10 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire when due")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerCoalesces(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(10 * time.Millisecond)
	defer tk.Stop()

	c.Advance(35 * time.Millisecond)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("missed ticks were not coalesced")
	default:
	}

	// Next tick is due at 40ms, not 45ms.
	c.Advance(5 * time.Millisecond)
	select {
	case got := <-tk.C():
		if !got.Equal(time.Unix(0, 0).Add(40 * time.Millisecond)) {
			t.Errorf("tick at %v", got)
		}
	default:
		t.Fatal("ticker lost its phase")
	}
}
