package awb

import (
	"fmt"
	"time"

	"github.com/banshee-data/awb/internal/awb/ccm"
	"github.com/banshee-data/awb/internal/awb/expprior"
	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awb/lsc"
	"github.com/banshee-data/awb/internal/awb/measure"
	"github.com/banshee-data/awb/internal/awb/wbgain"
	"github.com/banshee-data/awb/internal/awb/wpregion"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

// frameState is everything carried from one frame to the next. It is
// replaced as a whole when a frame commits.
type frameState struct {
	prior       expprior.State
	illIdx      int
	gains       isp.Gains // applied gains before black-level compensation
	crossTalk   isp.CrossTalk
	offsetScale float64
	lsc         isp.LscTable
	hasLSC      bool
	regionSize  float64
	measure     isp.MeasureConfig

	noWhitePixel  uint32
	dNoWhitePixel uint32
	converged     bool
	frames        uint64

	last *frameRecord
}

// frameRecord keeps the intermediate results of the last committed frame
// for introspection.
type frameRecord struct {
	at       time.Time
	latency  time.Duration
	prior    expprior.Result
	rgb      colormath.Vec3
	estimate illum.Result
	gain     wbgain.Result
	cc       ccm.Result
	shading  lsc.Result
	region   wpregion.Result
}

// seedState derives the initial pipeline state for a Start.
func seedState(s *stages, mode Mode, arg float64) (frameState, error) {
	var (
		idx   int
		gains isp.Gains
	)
	switch mode {
	case ModeAuto, ModeManualIlluminant:
		idx = int(arg)
		if float64(idx) != arg || idx < 0 || idx >= len(s.set.Illuminants) {
			return frameState{}, fmt.Errorf("%w: illuminant index %g of %d", ErrInvalidParm, arg, len(s.set.Illuminants))
		}
		gains = s.set.Illuminants[idx].Gains
	case ModeManualColorTemperature:
		if s.fit == nil {
			return frameState{}, fmt.Errorf("%w: calibration has fewer than two temperature anchors", ErrNotSupported)
		}
		var err error
		if gains, err = s.fit.gains(s.gain, arg); err != nil {
			return frameState{}, err
		}
		idx = s.fit.nearest(arg)
	default:
		return frameState{}, fmt.Errorf("%w: mode %q", ErrInvalidParm, mode)
	}

	gains, err := gains.Normalize()
	if err != nil {
		return frameState{}, fmt.Errorf("seed gains: %w", err)
	}
	rg, bg, err := gains.Ratios()
	if err != nil {
		return frameState{}, fmt.Errorf("seed gains: %w", err)
	}

	st := frameState{
		prior:       s.prior.InitialState(),
		illIdx:      idx,
		gains:       gains,
		crossTalk:   s.set.Illuminants[idx].CrossTalk,
		offsetScale: 1,
		regionSize:  s.set.Global.RegionInit,
	}
	if s.shading.Has(idx) {
		if st.lsc, err = s.shading.Initial(idx); err != nil {
			return frameState{}, err
		}
		st.hasLSC = true
	}
	st.measure = s.region.Derive(st.regionSize, s.gain.Project(wbgain.Ratio{Rg: rg, Bg: bg}).RgProj)
	return st, nil
}

// hardware returns the values currently applied by the ISP.
func (c *Context) hardware() (isp.Gains, isp.CrossTalk, isp.Histogram, error) {
	if c.driver == nil {
		return c.st.gains.Scale(c.cfg.BLSFactor), c.st.crossTalk, nil, nil
	}
	g, err := c.driver.Gains()
	if err != nil {
		return isp.Gains{}, isp.CrossTalk{}, nil, fmt.Errorf("read gains: %w", err)
	}
	ct, err := c.driver.CrossTalk()
	if err != nil {
		return isp.Gains{}, isp.CrossTalk{}, nil, fmt.Errorf("read cross talk: %w", err)
	}
	h, err := c.driver.Histogram()
	if err != nil {
		return isp.Gains{}, isp.CrossTalk{}, nil, fmt.Errorf("read histogram: %w", err)
	}
	return g, ct, h, nil
}

// ProcessFrame runs the full pipeline on one frame's measurement. It only
// runs in ModeAuto while Running and fails with ErrCanceled otherwise. The
// first failing stage aborts the frame and nothing is applied. A failed
// register write is rolled back as far as the driver allows.
func (c *Context) ProcessFrame(m isp.Measurement, gain, integrationTime float64) error {
	if err := c.valid(); err != nil {
		return err
	}
	if c.mode != ModeAuto || c.state != StateRunning {
		return fmt.Errorf("%w: mode %q state %s", ErrCanceled, c.mode, c.state)
	}

	start := c.clock.Now()
	next, err := c.run(m, gain, integrationTime)
	if err == nil {
		err = c.apply(next)
	}
	if err != nil {
		c.log.Opsf("context %s frame %d: %v", c.id, c.st.frames+1, err)
		return err
	}
	next.last.at = start
	next.last.latency = c.clock.Since(start)
	c.st = next

	if c.log.TraceEnabled() {
		r := next.last
		c.log.Tracef("frame %d: region=%s dom=%s rg=%.4f bg=%.4f damp=%.3f white=%d d=%d settled=%t",
			next.frames, r.estimate.Region, c.stages.set.Illuminants[next.illIdx].Name,
			r.gain.FinalRatio.Rg, r.gain.FinalRatio.Bg, r.prior.Damping,
			next.noWhitePixel, next.dNoWhitePixel, next.converged)
	}
	return nil
}

// run computes the next frame state without touching the context.
func (c *Context) run(m isp.Measurement, gain, integrationTime float64) (frameState, error) {
	s := c.stages
	cur := c.st

	hwGains, hwCT, hist, err := c.hardware()
	if err != nil {
		return frameState{}, err
	}

	rec := &frameRecord{}
	if rec.prior, err = s.prior.Process(cur.prior, gain, integrationTime); err != nil {
		return frameState{}, fmt.Errorf("exposure prior: %w", err)
	}
	rec.rgb, err = measure.Invert(measure.Input{
		Mode:           c.cfg.Mode,
		Means:          m.Means,
		CrossTalk:      hwCT,
		Gains:          hwGains,
		SubtractOffset: c.cfg.OffsetCorrectionEnabled,
	})
	if err != nil {
		return frameState{}, fmt.Errorf("measurement inversion: %w", err)
	}
	rec.estimate, err = s.illum.Estimate(rec.rgb, illum.Prior{Indoor: rec.prior.Indoor, Outdoor: rec.prior.Outdoor})
	if err != nil {
		return frameState{}, fmt.Errorf("illumination estimate: %w", err)
	}
	dom := rec.estimate.Dominant

	rec.gain, err = s.gain.Process(wbgain.Input{
		Region:     rec.estimate.Region,
		Transition: rec.estimate.Transition,
		Dominant:   s.set.Illuminants[dom].Gains,
		GrayWorld:  rec.estimate.GrayWorld,
		DoorType:   rec.prior.DoorType,
		Indoor:     rec.prior.Indoor,
		Outdoor:    rec.prior.Outdoor,
		Damping:    rec.prior.Damping,
		Previous:   cur.gains,
	})
	if err != nil {
		return frameState{}, fmt.Errorf("white balance gains: %w", err)
	}

	prevCT := cur.crossTalk
	rec.cc, err = s.cc.Process(ccm.Input{
		Region:        rec.estimate.Region,
		Dominant:      dom,
		Blend:         rec.estimate.Blend,
		SensorGain:    gain,
		Histogram:     hist,
		Damping:       rec.prior.Damping,
		Previous:      &prevCT,
		PreviousScale: cur.offsetScale,
	})
	if err != nil {
		return frameState{}, fmt.Errorf("colour correction: %w", err)
	}

	next := frameState{
		prior:       rec.prior.State,
		illIdx:      dom,
		gains:       rec.gain.Final,
		crossTalk:   rec.cc.Damped,
		offsetScale: rec.cc.OffsetScale,
		lsc:         cur.lsc,
		hasLSC:      cur.hasLSC,
		frames:      cur.frames + 1,
		last:        rec,
	}

	// Without a table for the dominant illuminant the previous one stays.
	if s.shading.Has(dom) || cur.hasLSC {
		var prev *isp.LscTable
		if cur.hasLSC {
			t := cur.lsc
			prev = &t
		}
		rec.shading, err = s.shading.Process(lsc.Input{
			Dominant:   dom,
			SensorGain: gain,
			Damping:    rec.prior.Damping,
			Previous:   prev,
		})
		if err != nil {
			return frameState{}, fmt.Errorf("lens shading: %w", err)
		}
		next.lsc = rec.shading.Damped
		next.hasLSC = true
	}

	rec.region = s.region.Process(wpregion.Input{
		RegionSize:   cur.regionSize,
		NoWhitePixel: m.NoWhitePixel,
		OutOfRange:   rec.gain.OutOfRange,
		RgProj:       s.gain.Project(rec.gain.FinalRatio).RgProj,
	})
	next.regionSize = rec.region.RegionSize
	next.measure = rec.region.Measure

	next.noWhitePixel = m.NoWhitePixel
	next.dNoWhitePixel = absDiff(m.NoWhitePixel, cur.noWhitePixel)
	next.converged = cur.converged
	switch {
	case next.dNoWhitePixel <= c.cfg.StableThreshold():
		next.converged = true
	case next.dNoWhitePixel > c.cfg.RestartThreshold():
		next.converged = false
	}
	return next, nil
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
