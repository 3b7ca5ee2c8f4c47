// Package wpregion adapts the near-white measurement region to convergence
// feedback. A scalar region size in [0,1] widens the region when too few
// white pixels are found and narrows it when too many are found while the
// gains sit outside the calibrated range.
package wpregion

import (
	"fmt"
	"math"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

// Hardware defaults for the optional window parameters.
const (
	DefaultMinC     uint8 = 2
	DefaultMinYMaxG uint8 = 16
)

// Action is the region-size change applied for one frame.
type Action string

const (
	ActionGrow   Action = "grow"
	ActionShrink Action = "shrink"
	ActionHold   Action = "hold"
)

// Config holds the static adapter tuning.
type Config struct {
	Mode     isp.MeasMode
	Window   isp.Window
	MinWhite uint32
	MaxWhite uint32
	Inc      float64
	Dec      float64
	Curves   calib.RegionCurves

	DefaultMinC     uint8
	DefaultMinYMaxG uint8
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("%w: measurement mode %q", awberr.ErrInvalidParm, c.Mode)
	}
	if c.MinWhite > c.MaxWhite {
		return fmt.Errorf("%w: min white %d above max white %d", awberr.ErrOutOfRange, c.MinWhite, c.MaxWhite)
	}
	if c.Inc < 0 || c.Inc > 1 || c.Dec < 0 || c.Dec > 1 {
		return fmt.Errorf("%w: region size steps %g/%g", awberr.ErrOutOfRange, c.Inc, c.Dec)
	}
	if c.Curves.CbMin.Empty() || c.Curves.CrMin.Empty() || c.Curves.MaxCSum.Empty() {
		return fmt.Errorf("%w: cb_min, cr_min and max_csum curves are required", awberr.ErrInvalidParm)
	}
	return nil
}

// Input is one frame's feedback.
type Input struct {
	RegionSize   float64
	NoWhitePixel uint32
	OutOfRange   bool
	RgProj       float64
}

// Result is the adapted region and the window configuration derived from it.
type Result struct {
	RegionSize float64           `json:"region_size"`
	Action     Action            `json:"action"`
	Measure    isp.MeasureConfig `json:"measure"`
}

// Adapter derives measurement-window parameters from calibration curves.
type Adapter struct {
	cfg Config
}

// New returns an Adapter for cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.DefaultMinC == 0 {
		cfg.DefaultMinC = DefaultMinC
	}
	if cfg.DefaultMinYMaxG == 0 {
		cfg.DefaultMinYMaxG = DefaultMinYMaxG
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg}, nil
}

// Step applies the grow/shrink/hold rule to a region size.
func (a *Adapter) Step(rs float64, whitePixels uint32, outOfRange bool) (float64, Action) {
	act := ActionHold
	switch {
	case whitePixels < a.cfg.MinWhite:
		rs += a.cfg.Inc
		act = ActionGrow
	case whitePixels > a.cfg.MaxWhite && outOfRange:
		rs -= a.cfg.Dec
		act = ActionShrink
	}
	return math.Max(0, math.Min(1, rs)), act
}

func blend(p calib.CurvePair, rgProj, rs float64) float64 {
	return (1-rs)*p.RegionMin.Clamped(rgProj) + rs*p.RegionMax.Clamped(rgProj)
}

func toU8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// Derive computes the window configuration for a region size at rgProj.
func (a *Adapter) Derive(rs, rgProj float64) isp.MeasureConfig {
	c := a.cfg.Curves
	cbMin := blend(c.CbMin, rgProj, rs)
	crMin := blend(c.CrMin, rgProj, rs)
	csum := math.Max(0, blend(c.MaxCSum, rgProj, rs))

	// Shift the minimum corner along the diagonal so the region centres on
	// the reference chroma.
	refCb := cbMin + csum/2
	refCr := crMin + csum/2
	if !c.RefCb.Empty() {
		refCb += blend(c.RefCb, rgProj, rs)
	}
	if !c.RefCr.Empty() {
		refCr += blend(c.RefCr, rgProj, rs)
	}

	out := isp.MeasureConfig{
		Mode:     a.cfg.Mode,
		Window:   a.cfg.Window,
		RefCb:    toU8(refCb + 128),
		RefCr:    toU8(refCr + 128),
		MaxCSum:  toU8(csum),
		MinC:     a.cfg.DefaultMinC,
		MinYMaxG: a.cfg.DefaultMinYMaxG,
	}
	if !c.MinC.Empty() {
		out.MinC = toU8(blend(c.MinC, rgProj, rs))
	}
	if !c.MinYMaxG.Empty() {
		out.MinYMaxG = toU8(blend(c.MinYMaxG, rgProj, rs))
	}
	if !c.MaxY.Empty() {
		out.MaxY = toU8(blend(c.MaxY, rgProj, rs))
	} else {
		out.MaxY = maxLuma(float64(out.RefCb)-128, float64(out.RefCr)-128, float64(out.MaxCSum))
	}
	return out
}

// maxLuma returns the largest luma at which every corner of the chroma
// diamond around (cb, cr) stays unclipped in RGB.
func maxLuma(cb, cr, csum float64) uint8 {
	corners := [4][2]float64{
		{cb + csum, cr},
		{cb - csum, cr},
		{cb, cr + csum},
		{cb, cr - csum},
	}
	y := 255.0
	for _, p := range corners {
		y = math.Min(y, colormath.MaxLumaBeforeClip(p[0], p[1], 255))
	}
	return uint8(math.Floor(y))
}

// Process runs the adapter for one frame.
func (a *Adapter) Process(in Input) Result {
	rs, act := a.Step(in.RegionSize, in.NoWhitePixel, in.OutOfRange)
	return Result{RegionSize: rs, Action: act, Measure: a.Derive(rs, in.RgProj)}
}
