package awb

import (
	"time"

	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awb/wbgain"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

// Status is a summary of the context.
type Status struct {
	ID              string `json:"id"`
	State           State  `json:"state"`
	Mode            Mode   `json:"mode,omitempty"`
	Frames          uint64 `json:"frames"`
	Illuminant      int    `json:"illuminant"`
	IlluminantName  string `json:"illuminant_name,omitempty"`
	Settled         bool   `json:"settled"`
	NoWhitePixel    uint32 `json:"no_white_pixel"`
	DNoWhitePixel   uint32 `json:"d_no_white_pixel"`
	StableThreshold uint32 `json:"stable_threshold"`
}

// GainParam describes the applied white balance, correction and window.
type GainParam struct {
	// Gains are the applied gains before black-level compensation.
	Gains         isp.Gains         `json:"gains"`
	Undamped      isp.Gains         `json:"undamped"`
	Damped        isp.Gains         `json:"damped"`
	Ratio         wbgain.Ratio      `json:"ratio"`
	UndampedRatio wbgain.Ratio      `json:"undamped_ratio"`
	Projection    wbgain.Projection `json:"projection"`
	OutOfRange    bool              `json:"out_of_range"`
	Clipped       bool              `json:"clipped"`
	Damping       float64           `json:"damping"`
	CrossTalk     isp.CrossTalk     `json:"cross_talk"`
	OffsetScale   float64           `json:"offset_scale"`
	Saturation    []float64         `json:"saturation,omitempty"`
	Vignetting    float64           `json:"vignetting"`
	ShadingHeld   bool              `json:"shading_held"`
	RegionSize    float64           `json:"region_size"`
	Measure       isp.MeasureConfig `json:"measure"`
}

// IlluminationEstimate describes the last illuminant estimate.
type IlluminationEstimate struct {
	Dominant   int            `json:"dominant"`
	Name       string         `json:"name,omitempty"`
	DoorType   calib.DoorType `json:"door_type,omitempty"`
	Region     illum.Region   `json:"region,omitempty"`
	Transition float64        `json:"transition"`
	Likelihood []float64      `json:"likelihood,omitempty"`
	Weight     []float64      `json:"weight,omitempty"`
	Blend      []float64      `json:"blend,omitempty"`
	Normalized colormath.Vec3 `json:"normalized"`
	PCA        [2]float64     `json:"pca"`

	Exposure   float64        `json:"exposure"`
	Indoor     float64        `json:"indoor"`
	Outdoor    float64        `json:"outdoor"`
	PriorClass calib.DoorType `json:"prior_class,omitempty"`
}

// Snapshot is a self-contained copy of the context's observable state,
// safe to hand to other goroutines.
type Snapshot struct {
	Status
	Time        time.Time            `json:"time"`
	Latency     time.Duration        `json:"latency_ns"`
	Gain        GainParam            `json:"gain"`
	Estimate    IlluminationEstimate `json:"estimate"`
	Illuminants []string             `json:"illuminants,omitempty"`
}

func copyFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

func (c *Context) status() Status {
	s := Status{
		ID:              c.id,
		State:           c.state,
		Mode:            c.mode,
		Frames:          c.st.frames,
		Illuminant:      c.st.illIdx,
		Settled:         c.st.converged,
		NoWhitePixel:    c.st.noWhitePixel,
		DNoWhitePixel:   c.st.dNoWhitePixel,
		StableThreshold: c.cfg.StableThreshold(),
	}
	if c.stages != nil && c.st.illIdx < len(c.stages.set.Illuminants) {
		s.IlluminantName = c.stages.set.Illuminants[c.st.illIdx].Name
	}
	return s
}

func (c *Context) gainParam() GainParam {
	g := GainParam{
		Gains:       c.st.gains,
		Damped:      c.st.gains,
		Undamped:    c.st.gains,
		Damping:     c.st.prior.Damping,
		CrossTalk:   c.st.crossTalk,
		OffsetScale: c.st.offsetScale,
		RegionSize:  c.st.regionSize,
		Measure:     c.st.measure,
	}
	if rg, bg, err := c.st.gains.Ratios(); err == nil {
		g.Ratio = wbgain.Ratio{Rg: rg, Bg: bg}
		g.UndampedRatio = g.Ratio
	}
	if r := c.st.last; r != nil {
		g.Undamped = r.gain.Undamped
		g.Damped = r.gain.Damped
		g.UndampedRatio = r.gain.UndampedRatio
		g.Projection = r.gain.Projection
		g.OutOfRange = r.gain.OutOfRange
		g.Clipped = r.gain.Clipped
		g.Saturation = copyFloats(r.cc.Saturation)
		g.Vignetting = r.shading.Vignetting
		g.ShadingHeld = r.shading.Held
	} else if c.stages != nil {
		g.Projection = c.stages.gain.Project(g.Ratio)
	}
	return g
}

func (c *Context) estimate() IlluminationEstimate {
	e := IlluminationEstimate{Dominant: c.st.illIdx}
	if c.stages != nil && c.st.illIdx < len(c.stages.set.Illuminants) {
		il := c.stages.set.Illuminants[c.st.illIdx]
		e.Name = il.Name
		e.DoorType = il.DoorType
	}
	if r := c.st.last; r != nil {
		e.Region = r.estimate.Region
		e.Transition = r.estimate.Transition
		e.Likelihood = copyFloats(r.estimate.Likelihood)
		e.Weight = copyFloats(r.estimate.Weight)
		e.Blend = copyFloats(r.estimate.Blend)
		e.Normalized = r.estimate.Normalized
		e.PCA = r.estimate.PCA
		e.Exposure = r.prior.Exposure
		e.Indoor = r.prior.Indoor
		e.Outdoor = r.prior.Outdoor
		e.PriorClass = r.prior.DoorType
	}
	return e
}

// Status returns a summary of the context.
func (c *Context) Status() (Status, error) {
	if err := c.valid(); err != nil {
		return Status{}, err
	}
	return c.status(), nil
}

// Settled reports whether the white-pixel count has stabilised. It keeps
// restart hysteresis: once set it only clears when a frame's delta exceeds
// the restart threshold, so it can stay true for a frame TryLock refuses.
func (c *Context) Settled() (bool, error) {
	if err := c.valid(); err != nil {
		return false, err
	}
	return c.st.converged, nil
}

// GainParam returns the applied gains and their derivation.
func (c *Context) GainParam() (GainParam, error) {
	if err := c.valid(); err != nil {
		return GainParam{}, err
	}
	return c.gainParam(), nil
}

// IlluminationEstimate returns the last illuminant estimate.
func (c *Context) IlluminationEstimate() (IlluminationEstimate, error) {
	if err := c.valid(); err != nil {
		return IlluminationEstimate{}, err
	}
	return c.estimate(), nil
}

// Snapshot returns a deep copy of the observable state.
func (c *Context) Snapshot() (Snapshot, error) {
	if err := c.valid(); err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		Status:   c.status(),
		Gain:     c.gainParam(),
		Estimate: c.estimate(),
	}
	if r := c.st.last; r != nil {
		s.Time = r.at
		s.Latency = r.latency
	}
	if c.stages != nil {
		for _, il := range c.stages.set.Illuminants {
			s.Illuminants = append(s.Illuminants, il.Name)
		}
	}
	return s, nil
}
