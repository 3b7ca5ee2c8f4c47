// Package ccm blends the per-illuminant colour correction matrices and
// offsets into the cross-talk values written to the ISP.
package ccm

import (
	"fmt"
	"math"

	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
)

// DefaultHistogramThreshold is the dark-bin fraction above which the offset
// starts to fade out.
const DefaultHistogramThreshold = 0.2

// Config tunes the blender.
type Config struct {
	DampingEnabled     bool
	HistogramThreshold float64
}

// Input is one frame's input to the blender.
type Input struct {
	Region     illum.Region
	Dominant   int
	Blend      []float64
	SensorGain float64
	Histogram  isp.Histogram
	Damping    float64
	// Previous is last frame's damped output; nil on the first frame.
	Previous      *isp.CrossTalk
	PreviousScale float64
}

// Result is one frame's output.
type Result struct {
	Saturation  []float64     `json:"saturation"`
	Undamped    isp.CrossTalk `json:"undamped"`
	Damped      isp.CrossTalk `json:"damped"`
	RawScale    float64       `json:"raw_scale"`
	OffsetScale float64       `json:"offset_scale"`
}

// Blender holds each illuminant's saturation curve and its correction
// profiles sorted by descending saturation.
type Blender struct {
	cfg        Config
	saturation []interp.Curve
	profiles   [][]calib.CCProfile
}

// New builds a Blender from set using the resolved references.
func New(set *calib.Set, refs *calib.Refs, cfg Config) (*Blender, error) {
	if set == nil || refs == nil {
		return nil, fmt.Errorf("%w: calibration", awberr.ErrNullPointer)
	}
	if cfg.HistogramThreshold < 0 || cfg.HistogramThreshold >= 1 {
		return nil, fmt.Errorf("%w: histogram threshold %g", awberr.ErrInvalidParm, cfg.HistogramThreshold)
	}
	b := &Blender{
		cfg:        cfg,
		saturation: make([]interp.Curve, len(set.Illuminants)),
		profiles:   make([][]calib.CCProfile, len(set.Illuminants)),
	}
	for i, il := range set.Illuminants {
		b.saturation[i] = il.SaturationCurve
		for _, idx := range refs.CC[i] {
			b.profiles[i] = append(b.profiles[i], set.CC[idx])
		}
	}
	return b, nil
}

// Select returns illuminant i's correction at saturation sat. Outside the
// calibrated saturations the nearest profile is used as-is.
func (b *Blender) Select(i int, sat float64) (isp.CrossTalk, error) {
	if i < 0 || i >= len(b.profiles) {
		return isp.CrossTalk{}, fmt.Errorf("%w: illuminant %d", awberr.ErrOutOfRange, i)
	}
	p := b.profiles[i]
	if len(p) == 0 {
		return isp.CrossTalk{}, fmt.Errorf("%w: illuminant %d has no cc profiles", awberr.ErrInvalidParm, i)
	}
	if sat >= p[0].Saturation {
		return p[0].CrossTalk, nil
	}
	last := len(p) - 1
	if sat <= p[last].Saturation {
		return p[last].CrossTalk, nil
	}
	for k := 0; k < last; k++ {
		hi, lo := p[k], p[k+1]
		if sat > lo.Saturation {
			f := (sat - lo.Saturation) / (hi.Saturation - lo.Saturation)
			return hi.CrossTalk.Lerp(lo.CrossTalk, f), nil
		}
	}
	return p[last].CrossTalk, nil
}

// OffsetScale returns the raw offset attenuation for a histogram: 1 while
// the darkest bin holds at most threshold of the samples, falling linearly
// to 0 as it approaches all of them. A nil histogram means no attenuation.
func OffsetScale(h isp.Histogram, threshold float64) (float64, error) {
	if h == nil {
		return 1, nil
	}
	total := h.Total()
	if total == 0 {
		return 0, fmt.Errorf("%w: empty histogram", awberr.ErrDivisionByZero)
	}
	r := float64(h[0]) / float64(total)
	s := 1 - math.Max(0, r-threshold)/(1-threshold)
	return math.Max(0, math.Min(1, s)), nil
}

// Process runs the blender for one frame.
func (b *Blender) Process(in Input) (Result, error) {
	n := len(b.profiles)
	if in.Dominant < 0 || in.Dominant >= n {
		return Result{}, fmt.Errorf("%w: dominant illuminant %d", awberr.ErrOutOfRange, in.Dominant)
	}
	res := Result{Saturation: make([]float64, n)}
	for i := range b.saturation {
		res.Saturation[i] = b.saturation[i].Clamped(in.SensorGain)
	}

	switch in.Region {
	case illum.RegionA:
		ct, err := b.Select(in.Dominant, res.Saturation[in.Dominant])
		if err != nil {
			return Result{}, err
		}
		res.Undamped = ct
	case illum.RegionB, illum.RegionC:
		if len(in.Blend) != n {
			return Result{}, fmt.Errorf("%w: %d blend weights for %d illuminants", awberr.ErrInvalidParm, len(in.Blend), n)
		}
		for i, w := range in.Blend {
			if w <= 0 {
				continue
			}
			ct, err := b.Select(i, res.Saturation[i])
			if err != nil {
				return Result{}, err
			}
			res.Undamped.Matrix = res.Undamped.Matrix.Add(ct.Matrix.Scale(w))
			res.Undamped.Offset = res.Undamped.Offset.Add(ct.Offset.Scale(w))
		}
	default:
		return Result{}, fmt.Errorf("%w: region %q", awberr.ErrInvalidParm, in.Region)
	}

	raw, err := OffsetScale(in.Histogram, b.cfg.HistogramThreshold)
	if err != nil {
		return Result{}, err
	}
	res.RawScale = raw

	coef := in.Damping
	if !b.cfg.DampingEnabled || in.Previous == nil {
		coef = 0
	}
	res.OffsetScale = coef*in.PreviousScale + (1-coef)*raw
	res.Undamped.Offset = res.Undamped.Offset.Scale(res.OffsetScale)

	if in.Previous == nil {
		res.Damped = res.Undamped
	} else {
		res.Damped = in.Previous.Lerp(res.Undamped, coef)
	}
	return res, nil
}
