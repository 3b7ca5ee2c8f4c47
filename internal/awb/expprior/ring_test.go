package expprior

import (
	"errors"
	"testing"
)

func fill(t *testing.T, n int, vals ...float64) *Ring {
	t.Helper()
	r, err := NewRing(n, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		r.Push(v)
	}
	return r
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRingPushOverwritesOldest(t *testing.T) {
	r := fill(t, 3, 1, 2, 3, 4)
	if got, want := r.Samples(), []float64{2, 3, 4}; !equal(got, want) {
		t.Errorf("Samples() = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	if m := r.Mean(); m != 3 {
		t.Errorf("Mean() = %v, want 3", m)
	}
}

func TestRingResize(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []float64
	}{
		{"shrink keeps most recent", 2, []float64{5, 6}},
		{"same size", 4, []float64{3, 4, 5, 6}},
		{"grow pads with oldest kept", 6, []float64{3, 3, 3, 4, 5, 6}},
		{"single", 1, []float64{6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fill(t, 4, 1, 2, 3, 4, 5, 6)
			if err := r.Resize(tt.n); err != nil {
				t.Fatalf("Resize(%d) error = %v", tt.n, err)
			}
			if got := r.Samples(); !equal(got, tt.want) {
				t.Errorf("Samples() = %v, want %v", got, tt.want)
			}
			if r.cursor != 0 {
				t.Errorf("cursor = %d, want 0", r.cursor)
			}
			// The next push must replace the logical oldest sample.
			r.Push(9)
			s := r.Samples()
			if s[len(s)-1] != 9 || len(s) != tt.n {
				t.Errorf("after push Samples() = %v", s)
			}
		})
	}
}

func TestRingInvalidSize(t *testing.T) {
	if _, err := NewRing(0, 0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("NewRing(0) error = %v", err)
	}
	r := fill(t, 2)
	if err := r.Resize(-1); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Resize(-1) error = %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("failed resize changed length to %d", r.Len())
	}
}

func TestRingClone(t *testing.T) {
	r := fill(t, 2, 1, 2)
	c := r.Clone()
	c.Push(7)
	if got := r.Samples(); !equal(got, []float64{1, 2}) {
		t.Errorf("original mutated: %v", got)
	}
}
