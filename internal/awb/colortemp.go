package awb

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/awb/internal/awb/wbgain"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
)

// TemperatureFit is the least-squares line Rg = Intercept + Slope·K fitted
// through the temperature anchors of a calibration.
type TemperatureFit struct {
	Intercept float64  `json:"intercept"`
	Slope     float64  `json:"slope"`
	Anchors   []string `json:"anchors"`
}

type tempFit struct {
	TemperatureFit
	anchors []calib.Anchor
}

// fitTemperature returns nil when the set has fewer than two anchors.
func fitTemperature(set *calib.Set) *tempFit {
	anchors := set.TemperatureAnchors()
	f := &tempFit{}
	var xs, ys []float64
	for _, a := range anchors {
		rg, _, err := set.Illuminants[a.Index].Gains.Ratios()
		if err != nil {
			continue
		}
		xs = append(xs, a.Temperature)
		ys = append(ys, rg)
		f.anchors = append(f.anchors, a)
		f.Anchors = append(f.Anchors, set.Illuminants[a.Index].Name)
	}
	if len(xs) < 2 {
		return nil
	}
	f.Intercept, f.Slope = stat.LinearRegression(xs, ys, nil, false)
	return f
}

// gains places the fitted Rg on the centre line.
func (f *tempFit) gains(ctl *wbgain.Controller, kelvin float64) (isp.Gains, error) {
	if kelvin <= 0 || math.IsNaN(kelvin) {
		return isp.Gains{}, fmt.Errorf("%w: colour temperature %gK", ErrInvalidParm, kelvin)
	}
	rg := f.Intercept + f.Slope*kelvin
	if rg < awberr.DivMin {
		return isp.Gains{}, fmt.Errorf("%w: %gK maps to Rg %g", ErrOutOfRange, kelvin, rg)
	}
	r, err := ctl.Reconstruct(wbgain.Projection{RgProj: rg})
	if err != nil {
		return isp.Gains{}, err
	}
	if r.Bg < awberr.DivMin {
		return isp.Gains{}, fmt.Errorf("%w: %gK maps to Bg %g", ErrOutOfRange, kelvin, r.Bg)
	}
	return isp.Gains{Red: r.Rg, GreenR: 1, GreenB: 1, Blue: r.Bg}, nil
}

// nearest returns the illuminant index of the anchor closest to kelvin.
func (f *tempFit) nearest(kelvin float64) int {
	best, bestD := f.anchors[0].Index, math.Inf(1)
	for _, a := range f.anchors {
		if d := math.Abs(a.Temperature - kelvin); d < bestD {
			best, bestD = a.Index, d
		}
	}
	return best
}

// SupportsColorTemperature reports whether the loaded calibration can serve
// ModeManualColorTemperature.
func (c *Context) SupportsColorTemperature() (bool, error) {
	if err := c.valid(); err != nil {
		return false, err
	}
	return c.stages != nil && c.stages.fit != nil, nil
}

// ColorTemperatureFit returns the fitted temperature line.
func (c *Context) ColorTemperatureFit() (TemperatureFit, error) {
	if err := c.valid(); err != nil {
		return TemperatureFit{}, err
	}
	if c.stages == nil || c.stages.fit == nil {
		return TemperatureFit{}, fmt.Errorf("%w: no colour temperature fit", ErrNotSupported)
	}
	f := c.stages.fit.TemperatureFit
	f.Anchors = append([]string(nil), f.Anchors...)
	return f, nil
}
