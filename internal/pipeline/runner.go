package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/config"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/timeutil"
)

// Recorder persists runs. db.RunStore implements it.
type Recorder interface {
	StartRun(contextID, setID string, mode awb.Mode, arg float64, cfg *awb.Config) (string, error)
	RecordFrame(runID string, snap awb.Snapshot) error
	FinishRun(runID string) error
}

// Latency histogram range in microseconds.
const (
	latencyMinMicros = 1
	latencyMaxMicros = 10_000_000
)

// RunnerConfig contains configuration for a Runner.
type RunnerConfig struct {
	// Context is the AWB context to drive. Required.
	Context *awb.Context
	// Source yields frames. Required.
	Source isp.FrameSource
	// Config is the context configuration, stored with recorded runs.
	Config *awb.Config
	// Recorder is optional; when nil runs are not persisted.
	Recorder Recorder
	// SetID names the calibration set for recorded runs.
	SetID string

	// FrameInterval paces frame pulls; 0 pulls as fast as the source
	// yields.
	FrameInterval time.Duration
	// AutoLockFrames locks the context after this many consecutive
	// settled frames; 0 disables auto-lock.
	AutoLockFrames int
	// HistorySize bounds the snapshot history.
	HistorySize int
	// LatencyBudget counts frames that take longer; 0 disables.
	LatencyBudget time.Duration

	Clock  timeutil.Clock
	Logger *monitoring.Streams
}

// RunnerConfigFromTuning fills the pacing and policy fields from tc.
func RunnerConfigFromTuning(tc *config.TuningConfig) RunnerConfig {
	return RunnerConfig{
		FrameInterval:  tc.GetFrameInterval(),
		AutoLockFrames: tc.GetAutoLockFrames(),
		HistorySize:    tc.GetHistorySize(),
		LatencyBudget:  tc.GetLatencyBudget(),
	}
}

// Stats summarises the runner's frame accounting.
type Stats struct {
	Frames      uint64        `json:"frames"`
	Skipped     uint64        `json:"skipped"`
	Errors      uint64        `json:"errors"`
	OverBudget  uint64        `json:"over_budget"`
	AutoLocks   uint64        `json:"auto_locks"`
	LatencyP50  time.Duration `json:"latency_p50_ns"`
	LatencyP99  time.Duration `json:"latency_p99_ns"`
	LatencyMax  time.Duration `json:"latency_max_ns"`
	LatencyMean time.Duration `json:"latency_mean_ns"`
	LastError   string        `json:"last_error,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
}

// Runner serializes frame processing and control of one context.
type Runner struct {
	cfg RunnerConfig
	log *monitoring.Streams

	mu       sync.Mutex
	c        *awb.Context
	runID    string
	settled  int
	history  []awb.Snapshot
	next     int // ring write position once history is full
	latency  *hdrhistogram.Histogram
	stats    Stats
	lastSnap awb.Snapshot
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Context == nil || cfg.Source == nil {
		return nil, fmt.Errorf("%w: runner needs a context and a frame source", awb.ErrNullPointer)
	}
	if cfg.FrameInterval < 0 || cfg.AutoLockFrames < 0 || cfg.HistorySize < 0 || cfg.LatencyBudget < 0 {
		return nil, fmt.Errorf("%w: negative runner setting", awb.ErrInvalidParm)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	r := &Runner{
		cfg:     cfg,
		log:     cfg.Logger,
		c:       cfg.Context,
		latency: hdrhistogram.New(latencyMinMicros, latencyMaxMicros, 3),
	}
	if snap, err := r.c.Snapshot(); err == nil {
		r.lastSnap = snap
	}
	return r, nil
}

// Start starts the context and opens a recorded run.
func (r *Runner) Start(mode awb.Mode, arg float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.c.Start(mode, arg); err != nil {
		return err
	}
	r.settled = 0
	if r.cfg.Recorder != nil {
		id, err := r.cfg.Recorder.StartRun(r.c.ID(), r.cfg.SetID, mode, arg, r.cfg.Config)
		if err != nil {
			r.log.Opsf("start run: %v", err)
		} else {
			r.runID = id
			r.stats.RunID = id
		}
	}
	r.publishLocked()
	return nil
}

// Stop unlocks the context if needed, stops it and closes the recorded
// run.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, err := r.c.Status(); err == nil && st.State == awb.StateLocked {
		if err := r.c.Unlock(); err != nil {
			return err
		}
	}
	if err := r.c.Stop(); err != nil {
		return err
	}
	r.finishRunLocked()
	r.publishLocked()
	return nil
}

func (r *Runner) finishRunLocked() {
	if r.runID == "" || r.cfg.Recorder == nil {
		return
	}
	if err := r.cfg.Recorder.FinishRun(r.runID); err != nil {
		r.log.Opsf("finish run %s: %v", r.runID, err)
	}
	r.runID = ""
}

// Do runs fn with exclusive access to the context, between frames.
func (r *Runner) Do(fn func(c *awb.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := fn(r.c)
	r.publishLocked()
	return err
}

// Run pulls frames until ctx is done. Frame errors are counted and logged
// and do not stop the loop; a source error does.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.cfg.FrameInterval > 0 {
		t := r.cfg.Clock.NewTicker(r.cfg.FrameInterval)
		defer t.Stop()
		tick = t.C()
	}
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
		f, err := r.cfg.Source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next frame: %w", err)
		}
		r.Process(f)
	}
}

// Process runs one frame through the context. It reports whether the
// frame was applied.
func (r *Runner) Process(f isp.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.cfg.Clock.Now()
	err := r.c.ProcessFrame(f.Measurement, f.SensorGain, f.IntegrationTime)
	elapsed := r.cfg.Clock.Since(start)

	switch {
	case errors.Is(err, awb.ErrCanceled):
		r.stats.Skipped++
		return false
	case err != nil:
		r.stats.Errors++
		r.stats.LastError = err.Error()
		r.settled = 0
		return false
	}

	r.stats.Frames++
	r.recordLatency(elapsed)
	r.publishLocked()
	snap := r.lastSnap
	r.appendHistory(snap)

	if r.cfg.Recorder != nil && r.runID != "" {
		if err := r.cfg.Recorder.RecordFrame(r.runID, snap); err != nil {
			r.log.Opsf("record frame %d: %v", snap.Frames, err)
		}
	}

	if snap.Settled {
		r.settled++
	} else {
		r.settled = 0
	}
	if r.cfg.AutoLockFrames > 0 && r.settled >= r.cfg.AutoLockFrames {
		if err := r.c.TryLock(); err == nil {
			r.stats.AutoLocks++
			r.log.Diagf("auto-locked after %d settled frames", r.settled)
			r.publishLocked()
		}
		r.settled = 0
	}
	return true
}

func (r *Runner) recordLatency(d time.Duration) {
	us := d.Microseconds()
	if us < latencyMinMicros {
		us = latencyMinMicros
	}
	if err := r.latency.RecordValue(us); err != nil {
		r.log.Tracef("latency %v outside histogram range", d)
	}
	if r.cfg.LatencyBudget > 0 && d > r.cfg.LatencyBudget {
		r.stats.OverBudget++
		r.log.Diagf("frame took %v, budget %v", d, r.cfg.LatencyBudget)
	}
}

func (r *Runner) appendHistory(s awb.Snapshot) {
	n := r.cfg.HistorySize
	if n == 0 {
		return
	}
	if len(r.history) < n {
		r.history = append(r.history, s)
		return
	}
	r.history[r.next] = s
	r.next = (r.next + 1) % n
}

func (r *Runner) publishLocked() {
	snap, err := r.c.Snapshot()
	if err != nil {
		return
	}
	r.lastSnap = snap
}

// Snapshot returns the latest published snapshot.
func (r *Runner) Snapshot() awb.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSnap
}

// History returns the retained snapshots, oldest first.
func (r *Runner) History() []awb.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]awb.Snapshot, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	out = append(out, r.history[:r.next]...)
	return out
}

// Stats returns frame and latency counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	if r.latency.TotalCount() > 0 {
		s.LatencyP50 = time.Duration(r.latency.ValueAtQuantile(50)) * time.Microsecond
		s.LatencyP99 = time.Duration(r.latency.ValueAtQuantile(99)) * time.Microsecond
		s.LatencyMax = time.Duration(r.latency.Max()) * time.Microsecond
		s.LatencyMean = time.Duration(r.latency.Mean() * float64(time.Microsecond))
	}
	return s
}

// Close finishes any open run. The context is left as is.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishRunLocked()
}
