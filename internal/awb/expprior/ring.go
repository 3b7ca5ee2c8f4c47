package expprior

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/awb/internal/awberr"
)

// ErrInvalidSize reports a ring size below one.
var ErrInvalidSize = fmt.Errorf("%w: ring size must be at least 1", awberr.ErrInvalidParm)

// Ring is a fixed-size circular buffer of probability samples. It always
// holds exactly Len() samples; Push overwrites the oldest one.
type Ring struct {
	buf    []float64
	cursor int // slot of the oldest sample, next to be overwritten
}

// NewRing returns a ring of size n filled with initial.
func NewRing(n int, initial float64) (*Ring, error) {
	if n < 1 {
		return nil, ErrInvalidSize
	}
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = initial
	}
	return &Ring{buf: buf}, nil
}

// Len returns the number of samples held.
func (r *Ring) Len() int { return len(r.buf) }

// Push overwrites the oldest sample with v.
func (r *Ring) Push(v float64) {
	r.buf[r.cursor] = v
	r.cursor = (r.cursor + 1) % len(r.buf)
}

// Mean returns the mean of the held samples.
func (r *Ring) Mean() float64 {
	return stat.Mean(r.buf, nil)
}

// Samples returns the held samples ordered oldest to newest.
func (r *Ring) Samples() []float64 {
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	return append(out, r.buf[:r.cursor]...)
}

// Clone returns an independent copy of r.
func (r *Ring) Clone() *Ring {
	return &Ring{buf: append([]float64(nil), r.buf...), cursor: r.cursor}
}

// Resize changes the ring to hold n samples. The most recent min(old, n)
// samples are kept in order; any extra leading slots repeat the oldest kept
// sample. The cursor is reset to slot 0, the logical oldest sample.
func (r *Ring) Resize(n int) error {
	if n < 1 {
		return ErrInvalidSize
	}
	samples := r.Samples()
	keep := len(samples)
	if n < keep {
		keep = n
	}
	recent := samples[len(samples)-keep:]

	buf := make([]float64, n)
	pad := n - keep
	for i := 0; i < pad; i++ {
		buf[i] = recent[0]
	}
	copy(buf[pad:], recent)
	r.buf = buf
	r.cursor = 0
	return nil
}
