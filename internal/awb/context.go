package awb

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/awb/internal/awb/ccm"
	"github.com/banshee-data/awb/internal/awb/expprior"
	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awb/lsc"
	"github.com/banshee-data/awb/internal/awb/wbgain"
	"github.com/banshee-data/awb/internal/awb/wpregion"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/timeutil"
)

// Option configures a Context at Init.
type Option func(*Context)

// WithLogger routes context logging to s. State transitions go to diag,
// failures to ops and per-frame telemetry to trace.
func WithLogger(s *monitoring.Streams) Option {
	return func(c *Context) { c.log = s }
}

// WithISP attaches the hardware driver. Without one the context treats its
// own applied values as the hardware state and writes nothing.
func WithISP(d isp.Driver) Option {
	return func(c *Context) { c.driver = d }
}

// WithClock sets the clock used for frame timestamps and latency.
func WithClock(clk timeutil.Clock) Option {
	return func(c *Context) { c.clock = clk }
}

// stages bundles everything built from one calibration load.
type stages struct {
	set     *calib.Set
	refs    *calib.Refs
	prior   *expprior.Estimator
	illum   *illum.Estimator
	gain    *wbgain.Controller
	cc      *ccm.Blender
	shading *lsc.Blender
	region  *wpregion.Adapter
	fit     *tempFit
}

func buildStages(cfg *Config, set *calib.Set) (*stages, error) {
	refs, err := set.Resolve(cfg.Resolution)
	if err != nil {
		return nil, fmt.Errorf("resolve calibration: %w", err)
	}
	priorCfg := expprior.ConfigFromCalibration(set.Global)
	if cfg.FilterSize > 0 {
		priorCfg.FilterSize = cfg.FilterSize
	}
	s := &stages{set: set, refs: refs, fit: fitTemperature(set)}
	if s.prior, err = expprior.New(priorCfg); err != nil {
		return nil, fmt.Errorf("exposure prior: %w", err)
	}
	if s.illum, err = illum.New(set); err != nil {
		return nil, fmt.Errorf("illumination estimator: %w", err)
	}
	if s.gain, err = wbgain.New(wbgain.ConfigFromCalibration(set.Global, cfg.DampingEnabled)); err != nil {
		return nil, fmt.Errorf("gain controller: %w", err)
	}
	s.cc, err = ccm.New(set, refs, ccm.Config{
		DampingEnabled:     cfg.DampingEnabled,
		HistogramThreshold: cfg.HistogramThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("colour correction: %w", err)
	}
	if s.shading, err = lsc.New(set, refs, lsc.Config{DampingEnabled: cfg.DampingEnabled}); err != nil {
		return nil, fmt.Errorf("lens shading: %w", err)
	}
	s.region, err = wpregion.New(wpregion.Config{
		Mode:     cfg.Mode,
		Window:   cfg.Window,
		MinWhite: cfg.MinWhite(),
		MaxWhite: cfg.MaxWhite(),
		Inc:      set.Global.RegionSizeInc,
		Dec:      set.Global.RegionSizeDec,
		Curves:   set.Global.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("region adapter: %w", err)
	}
	return s, nil
}

// Context is the AWB controller for one sensor chain.
type Context struct {
	id     string
	state  State
	mode   Mode
	arg    float64 // Start argument, replayed by Reset
	cfg    Config
	src    calib.Source
	stages *stages
	st     frameState

	log    *monitoring.Streams
	clock  timeutil.Clock
	driver isp.Driver
}

// Init allocates a Context in the Initialized state.
func Init(opts ...Option) (*Context, error) {
	c := &Context{id: uuid.New().String(), state: StateInitialized}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	c.log.Diagf("context %s initialised", c.id)
	return c, nil
}

// ID returns the context handle ID.
func (c *Context) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

func (c *Context) valid() error {
	if c == nil || c.state == StateInvalid {
		return ErrWrongHandle
	}
	return nil
}

func (c *Context) setState(s State) {
	if c.state != s {
		c.log.Diagf("context %s: %s -> %s", c.id, c.state, s)
	}
	c.state = s
}

// Configure loads calibration for cfg from src and builds the pipeline.
// Allowed in Initialized and Stopped; the context ends up Stopped.
func (c *Context) Configure(cfg *Config, src calib.Source) error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.state != StateInitialized && c.state != StateStopped {
		return fmt.Errorf("%w: configure while %s", ErrWrongState, c.state)
	}
	if cfg == nil || src == nil {
		return fmt.Errorf("%w: config and calibration source are required", ErrNullPointer)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	set, err := src.Load(cfg.Resolution)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	s, err := buildStages(cfg, set)
	if err != nil {
		return err
	}

	c.cfg = *cfg
	c.src = src
	c.stages = s
	c.st = frameState{}
	c.mode = ""
	c.log.Diagf("context %s: configured %q at %s, %d illuminants", c.id, set.Name, cfg.Resolution, len(set.Illuminants))
	c.setState(StateStopped)
	return nil
}

// ReConfigure applies a new configuration to a configured context. The
// calibration is reloaded only when the resolution or framerate changed;
// a reload re-seeds the pipeline from the last Start.
func (c *Context) ReConfigure(cfg *Config) error {
	if err := c.valid(); err != nil {
		return err
	}
	switch c.state {
	case StateStopped, StateRunning, StateLocked:
	default:
		return fmt.Errorf("%w: reconfigure while %s", ErrWrongState, c.state)
	}
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrNullPointer)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	set := c.stages.set
	reload := cfg.Resolution != c.cfg.Resolution || cfg.Framerate != c.cfg.Framerate
	if reload {
		var err error
		if set, err = c.src.Load(cfg.Resolution); err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}
	}
	s, err := buildStages(cfg, set)
	if err != nil {
		return err
	}

	st := c.st
	switch {
	case reload && c.mode != "":
		if st, err = seedState(s, c.mode, c.arg); err != nil {
			return err
		}
		if err := c.write(cfg, st); err != nil {
			return err
		}
	case st.prior.Ring != nil && st.prior.Ring.Len() != s.prior.Config().FilterSize:
		ring := st.prior.Ring.Clone()
		if err := ring.Resize(s.prior.Config().FilterSize); err != nil {
			return err
		}
		st.prior.Ring = ring
	}

	c.cfg = *cfg
	c.stages = s
	c.st = st
	c.log.Diagf("context %s: reconfigured (reload=%t)", c.id, reload)
	return nil
}

// Start seeds gains, correction and shading and begins running. For
// ModeAuto and ModeManualIlluminant arg is an illuminant index; for
// ModeManualColorTemperature it is a colour temperature in Kelvin.
func (c *Context) Start(mode Mode, arg float64) error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.state != StateStopped {
		return fmt.Errorf("%w: start while %s", ErrWrongState, c.state)
	}
	if !mode.IsValid() {
		return fmt.Errorf("%w: mode %q", ErrInvalidParm, mode)
	}
	st, err := seedState(c.stages, mode, arg)
	if err != nil {
		return err
	}
	if err := c.write(&c.cfg, st); err != nil {
		c.log.Opsf("context %s: start write failed: %v", c.id, err)
		return err
	}
	c.st = st
	c.mode = mode
	c.arg = arg
	c.log.Diagf("context %s: start %s(%g) illuminant %q", c.id, mode, arg, c.stages.set.Illuminants[st.illIdx].Name)
	c.setState(StateRunning)
	return nil
}

// Stop halts frame processing. A locked context must be unlocked first.
func (c *Context) Stop() error {
	if err := c.valid(); err != nil {
		return err
	}
	switch c.state {
	case StateLocked:
		return fmt.Errorf("%w: stop while locked", ErrBusy)
	case StateInitialized:
		return fmt.Errorf("%w: stop before configure", ErrWrongState)
	}
	c.setState(StateStopped)
	return nil
}

// Reset reloads calibration and re-seeds from the last Start without
// changing the run state. A locked context must be unlocked first.
func (c *Context) Reset() error {
	if err := c.valid(); err != nil {
		return err
	}
	switch c.state {
	case StateInitialized:
		return fmt.Errorf("%w: reset before configure", ErrWrongState)
	case StateLocked:
		return fmt.Errorf("%w: reset while locked", ErrBusy)
	}
	set, err := c.src.Load(c.cfg.Resolution)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	s, err := buildStages(&c.cfg, set)
	if err != nil {
		return err
	}
	st := frameState{}
	if c.mode != "" {
		if st, err = seedState(s, c.mode, c.arg); err != nil {
			return err
		}
		if err := c.write(&c.cfg, st); err != nil {
			return err
		}
	}
	c.stages = s
	c.st = st
	c.log.Diagf("context %s: reset", c.id)
	return nil
}

// Release destroys the context. Running and locked contexts must be
// stopped first.
func (c *Context) Release() error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.state == StateRunning || c.state == StateLocked {
		return fmt.Errorf("%w: release while %s", ErrBusy, c.state)
	}
	c.log.Diagf("context %s released", c.id)
	c.state = StateInvalid
	c.stages = nil
	c.src = nil
	c.driver = nil
	c.st = frameState{}
	return nil
}

// TryLock freezes the applied values if the last frame's white-pixel
// delta is within the stable threshold. It fails with ErrBusy before the
// first frame and while the count is still moving, regardless of the
// hysteresis reported by Settled.
func (c *Context) TryLock() error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.state != StateRunning {
		return fmt.Errorf("%w: lock while %s", ErrWrongState, c.state)
	}
	if c.st.frames == 0 || c.st.dNoWhitePixel > c.cfg.StableThreshold() {
		return fmt.Errorf("%w: not settled (dNoWhitePixel=%d, threshold=%d)", ErrBusy, c.st.dNoWhitePixel, c.cfg.StableThreshold())
	}
	c.setState(StateLocked)
	return nil
}

// Unlock resumes processing of a locked context.
func (c *Context) Unlock() error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.state != StateLocked {
		return fmt.Errorf("%w: unlock while %s", ErrWrongState, c.state)
	}
	c.setState(StateRunning)
	return nil
}

// SetFilterSize resizes the exposure prior ring, keeping the most recent
// samples. Not allowed while running.
func (c *Context) SetFilterSize(n int) error {
	if err := c.valid(); err != nil {
		return err
	}
	if n < 1 {
		return expprior.ErrInvalidSize
	}
	if c.state == StateRunning {
		return fmt.Errorf("%w: resize filter while running", ErrWrongState)
	}
	c.cfg.FilterSize = n
	if c.stages == nil {
		return nil
	}
	priorCfg := c.stages.prior.Config()
	priorCfg.FilterSize = n
	prior, err := expprior.New(priorCfg)
	if err != nil {
		return err
	}
	if c.st.prior.Ring != nil {
		ring := c.st.prior.Ring.Clone()
		if err := ring.Resize(n); err != nil {
			return err
		}
		c.st.prior.Ring = ring
	}
	c.stages.prior = prior
	return nil
}

// register is one block of ISP registers, in write order.
type register int

const (
	regGains register = iota
	regCrossTalk
	regLensShading
	regMeasure
	numRegisters
)

// write pushes st to the hardware. Gains are scaled by the black-level
// compensation factor here and nowhere else.
func (c *Context) write(cfg *Config, st frameState) error {
	if c.driver == nil {
		return nil
	}
	_, err := c.writeRegisters(cfg, st)
	return err
}

// writeRegisters returns how many blocks were written before the first
// failure.
func (c *Context) writeRegisters(cfg *Config, st frameState) (int, error) {
	for r := register(0); r < numRegisters; r++ {
		if err := c.writeRegister(cfg, st, r); err != nil {
			return int(r), err
		}
	}
	return int(numRegisters), nil
}

func (c *Context) writeRegister(cfg *Config, st frameState, r register) error {
	switch r {
	case regGains:
		if err := c.driver.SetGains(st.gains.Scale(cfg.BLSFactor)); err != nil {
			return fmt.Errorf("write gains: %w", err)
		}
	case regCrossTalk:
		if err := c.driver.SetCrossTalk(st.crossTalk); err != nil {
			return fmt.Errorf("write cross talk: %w", err)
		}
	case regLensShading:
		if !st.hasLSC {
			return nil
		}
		if err := c.driver.SetLensShading(st.lsc); err != nil {
			return fmt.Errorf("write lens shading: %w", err)
		}
	case regMeasure:
		if err := c.driver.SetMeasureConfig(st.measure); err != nil {
			return fmt.Errorf("write measure config: %w", err)
		}
	}
	return nil
}

// apply writes next for ProcessFrame. When a block fails after earlier ones
// landed, the current values are written back. Blocks that cannot be
// restored are adopted into c.st so it keeps describing the hardware.
func (c *Context) apply(next frameState) error {
	if c.driver == nil {
		return nil
	}
	n, err := c.writeRegisters(&c.cfg, next)
	if err == nil {
		return nil
	}
	for r := register(0); r < register(n); r++ {
		if r == regLensShading && !c.st.hasLSC && next.hasLSC {
			// Nothing to restore; the new table stays on the hardware.
			c.adopt(next, r, r+1)
			continue
		}
		if rerr := c.writeRegister(&c.cfg, c.st, r); rerr != nil {
			c.log.Opsf("context %s: restore after failed write: %v", c.id, rerr)
			c.adopt(next, r, register(n))
			break
		}
	}
	return err
}

// adopt copies next's values for blocks [from, to) into c.st.
func (c *Context) adopt(next frameState, from, to register) {
	for r := from; r < to; r++ {
		switch r {
		case regGains:
			c.st.gains = next.gains
		case regCrossTalk:
			c.st.crossTalk = next.crossTalk
		case regLensShading:
			if next.hasLSC {
				c.st.lsc, c.st.hasLSC = next.lsc, true
			}
		case regMeasure:
			c.st.measure = next.measure
		}
	}
}
