// Package expprior converts sensor exposure into an indoor/outdoor prior and
// derives the damping coefficient the later stages use for temporal
// smoothing.
package expprior

import (
	"fmt"
	"math"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
)

// ErrExposureRange reports a normalised exposure below the numeric floor.
var ErrExposureRange = fmt.Errorf("%w: exposure below floor", awberr.ErrOutOfRange)

// Default affine mapping from -ln(E) to outdoor probability.
const (
	DefaultProbSlope     = 0.3
	DefaultProbIntercept = 0.5
)

// Config tunes the estimator.
type Config struct {
	KFactor            float64
	ProbSlope          float64
	ProbIntercept      float64
	FilterSize         int
	InitialIndoorProb  float64
	DeviationThreshold float64
	DampingAddStep     float64
	DampingSubStep     float64
	DampingMin         float64
	DampingMax         float64
	DampingInit        float64
}

// ConfigFromCalibration builds a Config from the global calibration.
func ConfigFromCalibration(g calib.Global) Config {
	return Config{
		KFactor:            g.KFactor,
		ProbSlope:          DefaultProbSlope,
		ProbIntercept:      DefaultProbIntercept,
		FilterSize:         g.IIR.FilterSize,
		InitialIndoorProb:  g.IIR.InitialIndoorProb,
		DeviationThreshold: g.IIR.DeviationThreshold,
		DampingAddStep:     g.IIR.DampingAddStep,
		DampingSubStep:     g.IIR.DampingSubStep,
		DampingMin:         g.IIR.DampingMin,
		DampingMax:         g.IIR.DampingMax,
		DampingInit:        g.IIR.DampingInit,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.KFactor <= 0 {
		return fmt.Errorf("%w: k-factor %g", awberr.ErrInvalidParm, c.KFactor)
	}
	if c.FilterSize < 1 {
		return fmt.Errorf("%w: filter size %d", awberr.ErrInvalidParm, c.FilterSize)
	}
	if c.DampingMin > c.DampingMax || c.DampingMin < 0 || c.DampingMax > 1 {
		return fmt.Errorf("%w: damping bounds [%g, %g]", awberr.ErrInvalidParm, c.DampingMin, c.DampingMax)
	}
	return nil
}

// State is the mutable part of the estimator. The pipeline owns it and
// replaces it only when a whole frame succeeds.
type State struct {
	Ring    *Ring
	Damping float64
}

// Result is the outcome of one frame.
type Result struct {
	Exposure float64
	// Raw probabilities for this frame before smoothing.
	RawIndoor  float64
	RawOutdoor float64
	// Smoothed probabilities; Indoor + Outdoor == 1.
	Indoor   float64
	Outdoor  float64
	DoorType calib.DoorType
	Damping  float64
	State    State
}

// Estimator computes the exposure prior.
type Estimator struct {
	cfg Config
}

// New returns an Estimator for cfg.
func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config { return e.cfg }

// InitialState returns a freshly seeded ring and damping coefficient.
func (e *Estimator) InitialState() State {
	ring, _ := NewRing(e.cfg.FilterSize, e.cfg.InitialIndoorProb)
	return State{Ring: ring, Damping: e.clamp(e.cfg.DampingInit)}
}

// OutdoorProbability maps a normalised exposure to a clamped outdoor
// probability.
func (e *Estimator) OutdoorProbability(exposure float64) float64 {
	p := e.cfg.ProbIntercept + e.cfg.ProbSlope*(-math.Log(exposure))
	return math.Max(0.5, math.Min(1.0, p))
}

// Classify returns the door type of an outdoor probability.
func Classify(outdoor float64) calib.DoorType {
	switch {
	case outdoor <= 0.5:
		return calib.Indoor
	case outdoor >= 1.0:
		return calib.Outdoor
	default:
		return calib.Transition
	}
}

// Process runs one frame. st is not modified; the updated state is returned
// in Result.State. On error no state changes.
func (e *Estimator) Process(st State, gain, integrationTime float64) (Result, error) {
	exposure := gain * integrationTime * e.cfg.KFactor
	if exposure < awberr.DivMin {
		return Result{}, fmt.Errorf("%w: E=%g (gain=%g time=%g)", ErrExposureRange, exposure, gain, integrationTime)
	}
	if st.Ring == nil {
		return Result{}, fmt.Errorf("%w: exposure prior ring", awberr.ErrNullPointer)
	}

	outdoor := e.OutdoorProbability(exposure)
	indoor := 1 - outdoor

	ring := st.Ring.Clone()
	ring.Push(indoor)
	mean := ring.Mean()

	damping := st.Damping
	if math.Abs(indoor-mean) > e.cfg.DeviationThreshold {
		damping -= e.cfg.DampingSubStep
	} else {
		damping += e.cfg.DampingAddStep
	}
	damping = e.clamp(damping)

	smoothedOutdoor := 1 - mean
	return Result{
		Exposure:   exposure,
		RawIndoor:  indoor,
		RawOutdoor: outdoor,
		Indoor:     mean,
		Outdoor:    smoothedOutdoor,
		DoorType:   Classify(smoothedOutdoor),
		Damping:    damping,
		State:      State{Ring: ring, Damping: damping},
	}, nil
}

func (e *Estimator) clamp(d float64) float64 {
	return math.Max(e.cfg.DampingMin, math.Min(e.cfg.DampingMax, d))
}
