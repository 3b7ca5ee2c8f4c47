// Package wbgain turns the illumination estimate into white-balance gains,
// damps them over time and clips them against the calibrated safety curves
// in (R/G, B/G) ratio space.
package wbgain

import (
	"fmt"
	"math"

	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
)

// Config holds the centre line and the clip and fade curves.
type Config struct {
	CenterLine       calib.CenterLine
	RgProjIndoorMin  float64
	RgProjOutdoorMin float64
	RgProjMax        float64
	RgProjMaxSky     float64
	ClipUpper        interp.Curve
	ClipLower        interp.Curve
	FadeUpper        interp.Curve
	FadeLower        interp.Curve
	DampingEnabled   bool
}

// ConfigFromCalibration builds a Config from the global calibration.
func ConfigFromCalibration(g calib.Global, dampingEnabled bool) Config {
	return Config{
		CenterLine:       g.CenterLine,
		RgProjIndoorMin:  g.RgProjIndoorMin,
		RgProjOutdoorMin: g.RgProjOutdoorMin,
		RgProjMax:        g.RgProjMax,
		RgProjMaxSky:     g.RgProjMaxSky,
		ClipUpper:        g.ClipUpper,
		ClipLower:        g.ClipLower,
		FadeUpper:        g.FadeUpper,
		FadeLower:        g.FadeLower,
		DampingEnabled:   dampingEnabled,
	}
}

// Ratio is a point in green-normalised gain space.
type Ratio struct {
	Rg float64 `json:"rg"`
	Bg float64 `json:"bg"`
}

// Projection locates a ratio relative to the centre line.
type Projection struct {
	// Distance is the signed distance from the line along its normal.
	Distance float64 `json:"distance"`
	// RgProj is the Rg coordinate of the foot point on the line.
	RgProj float64 `json:"rg_proj"`
}

// Input is one frame's input to the controller.
type Input struct {
	Region     illum.Region
	Transition float64
	Dominant   isp.Gains
	GrayWorld  isp.Gains
	DoorType   calib.DoorType
	Indoor     float64
	Outdoor    float64
	Damping    float64
	// Previous are the gains applied last frame; zero means none.
	Previous isp.Gains
}

// Result is one frame's output.
type Result struct {
	Undamped      isp.Gains  `json:"undamped"`
	Damped        isp.Gains  `json:"damped"`
	Final         isp.Gains  `json:"final"`
	UndampedRatio Ratio      `json:"undamped_ratio"`
	FinalRatio    Ratio      `json:"final_ratio"`
	Projection    Projection `json:"projection"`
	OutOfRange    bool       `json:"out_of_range"`
	Clipped       bool       `json:"clipped"`
}

// Controller computes white-balance gains.
type Controller struct {
	cfg      Config
	nRg, nBg float64
	d        float64
}

// New returns a Controller. The centre-line normal is rescaled to unit
// length.
func New(cfg Config) (*Controller, error) {
	l := math.Hypot(cfg.CenterLine.NormalRg, cfg.CenterLine.NormalBg)
	if l < awberr.DivMin {
		return nil, fmt.Errorf("%w: centre line normal is zero", awberr.ErrInvalidParm)
	}
	return &Controller{
		cfg: cfg,
		nRg: cfg.CenterLine.NormalRg / l,
		nBg: cfg.CenterLine.NormalBg / l,
		d:   cfg.CenterLine.Distance / l,
	}, nil
}

// Project returns the signed distance of r from the centre line and the Rg
// coordinate of its projection.
func (c *Controller) Project(r Ratio) Projection {
	s := c.nRg*r.Rg + c.nBg*r.Bg - c.d
	return Projection{Distance: s, RgProj: r.Rg - s*c.nRg}
}

// Reconstruct is the inverse of Project.
func (c *Controller) Reconstruct(p Projection) (Ratio, error) {
	if math.Abs(c.nBg) < awberr.DivMin {
		return Ratio{}, fmt.Errorf("%w: centre line normal has no Bg component", awberr.ErrDivisionByZero)
	}
	bgLine := (c.d - c.nRg*p.RgProj) / c.nBg
	return Ratio{Rg: p.RgProj + p.Distance*c.nRg, Bg: bgLine + p.Distance*c.nBg}, nil
}

// OutOfRange reports whether a projection lies outside the fade curves or
// beyond the sky threshold.
func (c *Controller) OutOfRange(p Projection) bool {
	upper := c.cfg.FadeUpper.Clamped(p.RgProj)
	lower := c.cfg.FadeLower.Clamped(p.RgProj)
	return p.Distance > upper || p.Distance < lower || p.RgProj > c.cfg.RgProjMaxSky
}

// RgProjBounds returns the allowed RgProj range for the exposure prior.
func (c *Controller) RgProjBounds(door calib.DoorType, indoor, outdoor float64) (lo, hi float64) {
	switch door {
	case calib.Indoor:
		lo = c.cfg.RgProjIndoorMin
	case calib.Outdoor:
		lo = c.cfg.RgProjOutdoorMin
	default:
		lo = indoor*c.cfg.RgProjIndoorMin + outdoor*c.cfg.RgProjOutdoorMin
	}
	hi = c.cfg.RgProjMax
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Clip clamps a ratio into the safe region and reports whether it moved.
func (c *Controller) Clip(r Ratio, door calib.DoorType, indoor, outdoor float64) (Ratio, bool, error) {
	p := c.Project(r)
	lo, hi := c.RgProjBounds(door, indoor, outdoor)
	proj := math.Max(lo, math.Min(hi, p.RgProj))

	upper := c.cfg.ClipUpper.Clamped(proj)
	lower := c.cfg.ClipLower.Clamped(proj)
	dist := math.Max(lower, math.Min(upper, p.Distance))

	if proj == p.RgProj && dist == p.Distance {
		return r, false, nil
	}
	out, err := c.Reconstruct(Projection{Distance: dist, RgProj: proj})
	return out, true, err
}

// Undamped returns the target gains for the estimate.
func Undamped(in Input) (isp.Gains, error) {
	var g isp.Gains
	switch in.Region {
	case illum.RegionA:
		g = in.Dominant
	case illum.RegionB:
		g = in.Dominant.Lerp(in.GrayWorld, in.Transition)
	case illum.RegionC:
		g = in.GrayWorld
	default:
		return isp.Gains{}, fmt.Errorf("%w: region %q", awberr.ErrInvalidParm, in.Region)
	}
	return g.Normalize()
}

// Process runs the controller for one frame.
func (c *Controller) Process(in Input) (Result, error) {
	undamped, err := Undamped(in)
	if err != nil {
		return Result{}, fmt.Errorf("undamped gains: %w", err)
	}
	rg, bg, err := undamped.Ratios()
	if err != nil {
		return Result{}, err
	}
	res := Result{Undamped: undamped, UndampedRatio: Ratio{Rg: rg, Bg: bg}}
	res.Projection = c.Project(res.UndampedRatio)
	res.OutOfRange = c.OutOfRange(res.Projection)

	coef := in.Damping
	if !c.cfg.DampingEnabled || in.Previous.Min() < awberr.DivMin {
		coef = 0
	}
	res.Damped = in.Previous.Lerp(undamped, coef)

	rg, bg, err = res.Damped.Ratios()
	if err != nil {
		return Result{}, err
	}
	clipped, moved, err := c.Clip(Ratio{Rg: rg, Bg: bg}, in.DoorType, in.Indoor, in.Outdoor)
	if err != nil {
		return Result{}, fmt.Errorf("clip: %w", err)
	}
	res.Clipped = moved
	res.FinalRatio = clipped

	final, err := isp.Gains{Red: clipped.Rg, GreenR: 1, GreenB: 1, Blue: clipped.Bg}.Normalize()
	if err != nil {
		return Result{}, fmt.Errorf("final gains: %w", err)
	}
	res.Final = final
	return res, nil
}
