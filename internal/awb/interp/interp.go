// Package interp provides the piecewise-linear table lookup used by every
// white-balance stage to read calibration curves.
package interp

import (
	"errors"
	"fmt"

	"github.com/banshee-data/awb/internal/awberr"
)

// ErrOutOfRange is returned together with the boundary value when a query
// falls outside the table. Callers treat it as "use the clamped value".
var ErrOutOfRange = fmt.Errorf("%w: query outside table", awberr.ErrOutOfRange)

// ErrInvalidTable reports tables that cannot be interpolated.
var ErrInvalidTable = fmt.Errorf("%w: invalid interpolation table", awberr.ErrInvalidParm)

// Linear interpolates ys over the ascending knots xs at x.
//
// Outside [xs[0], xs[n-1]] the boundary y is returned with ErrOutOfRange.
// A query equal to an interior knot belongs to the segment that ends at it,
// so xs[i] < x <= xs[i+1] selects segment i.
func Linear(xs, ys []float64, x float64) (float64, error) {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0, fmt.Errorf("%w: %d knots, %d values", ErrInvalidTable, len(xs), len(ys))
	}
	if x < xs[0] {
		return ys[0], ErrOutOfRange
	}
	if x > xs[n-1] {
		return ys[n-1], ErrOutOfRange
	}
	if n == 1 || x == xs[0] {
		return ys[0], nil
	}

	for i := 0; i < n-1; i++ {
		if x > xs[i+1] {
			continue
		}
		dx := xs[i+1] - xs[i]
		if dx <= 0 {
			return ys[i+1], nil
		}
		return ys[i] + (x-xs[i])*(ys[i+1]-ys[i])/dx, nil
	}
	return ys[n-1], nil
}

// Curve is a calibration curve sampled at ascending X.
type Curve struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// At returns the curve value at x. Out-of-range queries return the boundary
// value and ErrOutOfRange.
func (c Curve) At(x float64) (float64, error) {
	return Linear(c.X, c.Y, x)
}

// Clamped returns the curve value at x, ignoring the out-of-range report.
func (c Curve) Clamped(x float64) float64 {
	v, err := c.At(x)
	if err != nil && !errors.Is(err, ErrOutOfRange) {
		return 0
	}
	return v
}

// Empty reports whether the curve has no samples. Optional calibration
// curves are represented by an empty Curve.
func (c Curve) Empty() bool {
	return len(c.X) == 0
}

// Validate checks that the curve has matching, non-empty, ascending knots.
func (c Curve) Validate() error {
	if len(c.X) == 0 || len(c.X) != len(c.Y) {
		return fmt.Errorf("%w: %d knots, %d values", ErrInvalidTable, len(c.X), len(c.Y))
	}
	for i := 1; i < len(c.X); i++ {
		if c.X[i] < c.X[i-1] {
			return fmt.Errorf("%w: knots not ascending at index %d", ErrInvalidTable, i)
		}
	}
	return nil
}
