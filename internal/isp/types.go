package isp

import (
	"fmt"
	"time"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/colormath"
)

// MeasMode selects what the hardware measurement unit averages.
type MeasMode string

const (
	// MeasYCbCr reports mean Y, Cb and Cr of near-white pixels.
	MeasYCbCr MeasMode = "ycbcr"
	// MeasRGB reports mean R, G and B of near-white pixels.
	MeasRGB MeasMode = "rgb"
)

// IsValid reports whether m is a known measurement mode.
func (m MeasMode) IsValid() bool {
	return m == MeasYCbCr || m == MeasRGB
}

func (m MeasMode) String() string { return string(m) }

// Window is the measurement rectangle in sensor pixels.
type Window struct {
	HOffset uint16 `json:"h_offset"`
	VOffset uint16 `json:"v_offset"`
	Width   uint16 `json:"width"`
	Height  uint16 `json:"height"`
}

// Area returns the window area in pixels.
func (w Window) Area() uint32 {
	return uint32(w.Width) * uint32(w.Height)
}

// Gains are the four Bayer-channel white-balance gains.
type Gains struct {
	Red    float64 `json:"red"`
	GreenR float64 `json:"green_r"`
	GreenB float64 `json:"green_b"`
	Blue   float64 `json:"blue"`
}

// Unity returns gains of 1 on every channel.
func Unity() Gains {
	return Gains{Red: 1, GreenR: 1, GreenB: 1, Blue: 1}
}

// Green returns the mean of the two green gains.
func (g Gains) Green() float64 {
	return (g.GreenR + g.GreenB) / 2
}

// Min returns the smallest channel gain.
func (g Gains) Min() float64 {
	m := g.Red
	for _, v := range []float64{g.GreenR, g.GreenB, g.Blue} {
		if v < m {
			m = v
		}
	}
	return m
}

// Scale returns g with every channel multiplied by s.
func (g Gains) Scale(s float64) Gains {
	return Gains{Red: g.Red * s, GreenR: g.GreenR * s, GreenB: g.GreenB * s, Blue: g.Blue * s}
}

// Lerp returns a·g + (1-a)·o per channel.
func (g Gains) Lerp(o Gains, a float64) Gains {
	return Gains{
		Red:    a*g.Red + (1-a)*o.Red,
		GreenR: a*g.GreenR + (1-a)*o.GreenR,
		GreenB: a*g.GreenB + (1-a)*o.GreenB,
		Blue:   a*g.Blue + (1-a)*o.Blue,
	}
}

// Normalize divides every channel by the smallest one so the minimum gain is
// exactly 1. It fails with awberr.ErrOutOfRange if that minimum is near zero.
func (g Gains) Normalize() (Gains, error) {
	m := g.Min()
	if m < awberr.DivMin {
		return g, fmt.Errorf("%w: minimum gain %g", awberr.ErrOutOfRange, m)
	}
	if m == 1 {
		return g, nil
	}
	// Division keeps the minimum channel at exactly 1.
	return Gains{Red: g.Red / m, GreenR: g.GreenR / m, GreenB: g.GreenB / m, Blue: g.Blue / m}, nil
}

// Ratios returns the green-normalised ratios R/G and B/G.
func (g Gains) Ratios() (rg, bg float64, err error) {
	gr := g.Green()
	if gr < awberr.DivMin {
		return 0, 0, fmt.Errorf("%w: green gain %g", awberr.ErrDivisionByZero, gr)
	}
	return g.Red / gr, g.Blue / gr, nil
}

// CrossTalk is the colour correction applied after white balance:
// out = Matrix·in + Offset.
type CrossTalk struct {
	Matrix colormath.Mat3 `json:"matrix"`
	Offset colormath.Vec3 `json:"offset"`
}

// IdentityCrossTalk returns a pass-through correction.
func IdentityCrossTalk() CrossTalk {
	return CrossTalk{Matrix: colormath.Identity()}
}

// Lerp returns a·c + (1-a)·o for matrix and offset.
func (c CrossTalk) Lerp(o CrossTalk, a float64) CrossTalk {
	return CrossTalk{Matrix: c.Matrix.Lerp(o.Matrix, a), Offset: c.Offset.Lerp(o.Offset, a)}
}

const (
	// LscGridSize is the number of grid points per axis of a shading table.
	LscGridSize = 17
	// LscSectors is the number of sector widths stored per half axis.
	LscSectors = 8
	// LscCells is the number of coefficients per colour channel.
	LscCells = LscGridSize * LscGridSize
)

// LscChannel is one colour channel of a shading table in hardware units.
type LscChannel [LscCells]uint16

// LscTable is a lens-shading correction grid for the four Bayer channels.
type LscTable struct {
	Red     LscChannel         `json:"red"`
	GreenR  LscChannel         `json:"green_r"`
	GreenB  LscChannel         `json:"green_b"`
	Blue    LscChannel         `json:"blue"`
	XSector [LscSectors]uint16 `json:"x_sector"`
	YSector [LscSectors]uint16 `json:"y_sector"`
}

// Channels returns pointers to the four coefficient planes in R, Gr, Gb, B
// order.
func (t *LscTable) Channels() [4]*LscChannel {
	return [4]*LscChannel{&t.Red, &t.GreenR, &t.GreenB, &t.Blue}
}

// MeasureConfig programs the near-white measurement unit. Chroma values are
// 8-bit with 128 as neutral.
type MeasureConfig struct {
	Mode     MeasMode `json:"mode"`
	Window   Window   `json:"window"`
	MaxY     uint8    `json:"max_y"`
	MinYMaxG uint8    `json:"min_y_max_g"`
	RefCb    uint8    `json:"ref_cb"`
	RefCr    uint8    `json:"ref_cr"`
	MaxCSum  uint8    `json:"max_csum"`
	MinC     uint8    `json:"min_c"`
}

// Measurement is the per-frame output of the measurement unit. Means holds
// (Y, Cb, Cr) in YCbCr mode and (R, G, B) in RGB mode.
type Measurement struct {
	Means        colormath.Vec3 `json:"means"`
	NoWhitePixel uint32         `json:"no_white_pixel"`
}

// Histogram is the exposure histogram, darkest bin first.
type Histogram []uint32

// Total returns the number of samples in the histogram.
func (h Histogram) Total() uint64 {
	var t uint64
	for _, v := range h {
		t += uint64(v)
	}
	return t
}

// Frame bundles everything the pipeline consumes for one exposure.
type Frame struct {
	Seq             uint64      `json:"seq"`
	Timestamp       time.Time   `json:"timestamp"`
	Measurement     Measurement `json:"measurement"`
	SensorGain      float64     `json:"sensor_gain"`
	IntegrationTime float64     `json:"integration_time"`
	Histogram       Histogram   `json:"histogram,omitempty"`
}
