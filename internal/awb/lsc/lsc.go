// Package lsc selects and damps lens-shading correction tables. All table
// arithmetic is fixed point so results match the hardware bit for bit.
package lsc

import (
	"fmt"

	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
)

// Config tunes the blender.
type Config struct {
	DampingEnabled bool
}

// Input is one frame's input to the blender.
type Input struct {
	Dominant   int
	SensorGain float64
	Damping    float64
	// Previous is last frame's damped table; nil on the first frame.
	Previous *isp.LscTable
}

// Result is one frame's output.
type Result struct {
	Vignetting float64      `json:"vignetting"`
	Undamped   isp.LscTable `json:"-"`
	Damped     isp.LscTable `json:"-"`
	// Held is set when the dominant illuminant has no table for the
	// current resolution and the previous table was kept.
	Held bool `json:"held"`
}

// Blender holds each illuminant's vignetting curve and its shading
// profiles for one resolution, sorted by descending vignetting.
type Blender struct {
	cfg        Config
	vignetting []interp.Curve
	profiles   [][]calib.LSCProfile
}

// New builds a Blender from set using the resolved references.
func New(set *calib.Set, refs *calib.Refs, cfg Config) (*Blender, error) {
	if set == nil || refs == nil {
		return nil, fmt.Errorf("%w: calibration", awberr.ErrNullPointer)
	}
	b := &Blender{
		cfg:        cfg,
		vignetting: make([]interp.Curve, len(set.Illuminants)),
		profiles:   make([][]calib.LSCProfile, len(set.Illuminants)),
	}
	for i, il := range set.Illuminants {
		b.vignetting[i] = il.VignettingCurve
		for _, idx := range refs.LSC[i] {
			b.profiles[i] = append(b.profiles[i], set.LSC[idx])
		}
	}
	return b, nil
}

// Has reports whether illuminant i has any table at this resolution.
func (b *Blender) Has(i int) bool {
	return i >= 0 && i < len(b.profiles) && len(b.profiles[i]) > 0
}

// Initial returns illuminant i's highest-vignetting table.
func (b *Blender) Initial(i int) (isp.LscTable, error) {
	if !b.Has(i) {
		return isp.LscTable{}, fmt.Errorf("%w: illuminant %d has no lsc profiles", awberr.ErrNotSupported, i)
	}
	return b.profiles[i][0].Table, nil
}

// Select returns illuminant i's table at vignetting v.
func (b *Blender) Select(i int, v float64) (isp.LscTable, error) {
	if !b.Has(i) {
		return isp.LscTable{}, fmt.Errorf("%w: illuminant %d has no lsc profiles", awberr.ErrNotSupported, i)
	}
	p := b.profiles[i]
	if v >= p[0].Vignetting {
		return p[0].Table, nil
	}
	last := len(p) - 1
	if v <= p[last].Vignetting {
		return p[last].Table, nil
	}
	for k := 0; k < last; k++ {
		hi, lo := &p[k], &p[k+1]
		if v > lo.Vignetting {
			f := ToQ16((v - lo.Vignetting) / (hi.Vignetting - lo.Vignetting))
			return Blend(&hi.Table, &lo.Table, f), nil
		}
	}
	return p[last].Table, nil
}

// Process runs the blender for one frame.
func (b *Blender) Process(in Input) (Result, error) {
	if in.Dominant < 0 || in.Dominant >= len(b.profiles) {
		return Result{}, fmt.Errorf("%w: dominant illuminant %d", awberr.ErrOutOfRange, in.Dominant)
	}
	res := Result{Vignetting: b.vignetting[in.Dominant].Clamped(in.SensorGain)}

	if !b.Has(in.Dominant) {
		if in.Previous == nil {
			return Result{}, fmt.Errorf("%w: no lsc table for illuminant %d", awberr.ErrNotSupported, in.Dominant)
		}
		res.Held = true
		res.Undamped = *in.Previous
		res.Damped = *in.Previous
		return res, nil
	}

	t, err := b.Select(in.Dominant, res.Vignetting)
	if err != nil {
		return Result{}, err
	}
	res.Undamped = t
	if !b.cfg.DampingEnabled || in.Previous == nil {
		res.Damped = t
		return res, nil
	}
	res.Damped = Blend(in.Previous, &res.Undamped, ToQ16(in.Damping))
	return res, nil
}
