package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/config"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/testutil"
	"github.com/banshee-data/awb/internal/timeutil"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	finished []string
	frames   map[string][]uint64
}

func (f *fakeRecorder) StartRun(contextID, setID string, mode awb.Mode, arg float64, cfg *awb.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if f.frames == nil {
		f.frames = map[string][]uint64{}
	}
	id := setID + "-run"
	f.frames[id] = nil
	return id, nil
}

func (f *fakeRecorder) RecordFrame(runID string, snap awb.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[runID] = append(f.frames[runID], snap.Frames)
	return nil
}

func (f *fakeRecorder) FinishRun(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, runID)
	return nil
}

// fixedClock reports a constant elapsed time.
type fixedClock struct {
	timeutil.RealClock
	elapsed time.Duration
}

func (c fixedClock) Since(time.Time) time.Duration { return c.elapsed }

func newRunner(t *testing.T, sim *isp.Simulator, mutate func(*RunnerConfig)) *Runner {
	t.Helper()
	c, err := awb.Init(awb.WithISP(sim))
	require.NoError(t, err)
	cfg := awb.DefaultConfig()
	require.NoError(t, c.Configure(cfg, calib.NewMemory(testutil.MustCalibrationSet())))
	rc := RunnerConfig{Context: c, Source: sim, Config: cfg, SetID: "fixture", HistorySize: 16}
	if mutate != nil {
		mutate(&rc)
	}
	r, err := NewRunner(rc)
	require.NoError(t, err)
	return r
}

func indoorScene() *isp.Simulator {
	return isp.NewSimulator(testutil.Scene(testutil.IdxA, 8, 0.03), nil)
}

func step(t *testing.T, r *Runner, sim *isp.Simulator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f, err := sim.NextFrame(context.Background())
		require.NoError(t, err)
		r.Process(f)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	assert.ErrorIs(t, err, awb.ErrNullPointer)

	c, err := awb.Init()
	require.NoError(t, err)
	_, err = NewRunner(RunnerConfig{Context: c, Source: indoorScene(), HistorySize: -1})
	assert.ErrorIs(t, err, awb.ErrInvalidParm)
}

func TestRunnerConfigFromTuning(t *testing.T) {
	rc := RunnerConfigFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, 33*time.Millisecond, rc.FrameInterval)
	assert.Equal(t, 0, rc.AutoLockFrames)
	assert.Equal(t, 300, rc.HistorySize)
	assert.Equal(t, 5*time.Millisecond, rc.LatencyBudget)
}

func TestRunnerAutoLock(t *testing.T) {
	sim := indoorScene()
	rec := &fakeRecorder{}
	r := newRunner(t, sim, func(rc *RunnerConfig) {
		rc.AutoLockFrames = 3
		rc.Recorder = rec
	})
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))

	for i := 0; i < 200 && r.Snapshot().State != awb.StateLocked; i++ {
		step(t, r, sim, 1)
	}
	snap := r.Snapshot()
	require.Equal(t, awb.StateLocked, snap.State)
	assert.True(t, snap.Settled)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.AutoLocks)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, "fixture-run", stats.RunID)

	// Locked frames are skipped and not recorded.
	f, err := sim.NextFrame(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Process(f))
	assert.Equal(t, stats.Skipped+1, r.Stats().Skipped)

	require.NoError(t, r.Stop())
	assert.Equal(t, awb.StateStopped, r.Snapshot().State)
	assert.Equal(t, []string{"fixture-run"}, rec.finished)
	assert.Len(t, rec.frames["fixture-run"], int(stats.Frames))
}

func TestRunnerHistoryIsBounded(t *testing.T) {
	sim := indoorScene()
	r := newRunner(t, sim, func(rc *RunnerConfig) { rc.HistorySize = 5 })
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))
	step(t, r, sim, 12)

	h := r.History()
	require.Len(t, h, 5)
	for i, s := range h {
		assert.Equal(t, uint64(8+i), s.Frames)
	}
}

func TestRunnerCountsFrameErrors(t *testing.T) {
	sim := indoorScene()
	r := newRunner(t, sim, nil)
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))

	ok := r.Process(isp.Frame{Measurement: sim.Measure(), SensorGain: 0, IntegrationTime: 0.03})
	assert.False(t, ok)
	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Zero(t, stats.Frames)
	assert.Contains(t, stats.LastError, "exposure")
	assert.Empty(t, r.History())
}

func TestRunnerLatencyBudget(t *testing.T) {
	sim := indoorScene()
	r := newRunner(t, sim, func(rc *RunnerConfig) {
		rc.Clock = fixedClock{elapsed: 10 * time.Millisecond}
		rc.LatencyBudget = 5 * time.Millisecond
	})
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))
	step(t, r, sim, 4)

	stats := r.Stats()
	assert.Equal(t, uint64(4), stats.OverBudget)
	assert.InDelta(t, float64(10*time.Millisecond), float64(stats.LatencyP50), float64(50*time.Microsecond))
	assert.InDelta(t, float64(10*time.Millisecond), float64(stats.LatencyMax), float64(50*time.Microsecond))
}

func TestRunnerDoSerializesControl(t *testing.T) {
	sim := indoorScene()
	r := newRunner(t, sim, nil)
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))

	err := r.Do(func(c *awb.Context) error { return c.TryLock() })
	assert.ErrorIs(t, err, awb.ErrBusy)

	require.NoError(t, r.Do(func(c *awb.Context) error { return c.Stop() }))
	assert.Equal(t, awb.StateStopped, r.Snapshot().State)
}

// chanSource yields queued frames and then blocks until ctx is done.
type chanSource struct {
	frames chan isp.Frame
	err    error
}

func (s *chanSource) NextFrame(ctx context.Context) (isp.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return isp.Frame{}, s.err
		}
		return f, nil
	case <-ctx.Done():
		return isp.Frame{}, ctx.Err()
	}
}

func TestRunnerRun(t *testing.T) {
	sim := indoorScene()
	src := &chanSource{frames: make(chan isp.Frame, 8)}
	r := newRunner(t, sim, func(rc *RunnerConfig) { rc.Source = src })
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Each frame is captured after the previous one was applied, as the
	// sensor would.
	for i := uint64(1); i <= 5; i++ {
		f, err := sim.NextFrame(context.Background())
		require.NoError(t, err)
		src.frames <- f
		require.Eventually(t, func() bool {
			st := r.Stats()
			return st.Frames+st.Skipped+st.Errors == i
		}, time.Second, time.Millisecond)
	}
	cancel()
	assert.NoError(t, <-done)

	stats := r.Stats()
	assert.Equal(t, uint64(5), stats.Frames)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Errors)
}

func TestRunnerRunStopsOnSourceError(t *testing.T) {
	sim := indoorScene()
	boom := errors.New("port closed")
	src := &chanSource{frames: make(chan isp.Frame), err: boom}
	close(src.frames)
	r := newRunner(t, sim, func(rc *RunnerConfig) { rc.Source = src })

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunnerPacedByTicker(t *testing.T) {
	sim := indoorScene()
	clk := timeutil.NewMockClock(time.Unix(0, 0))
	r := newRunner(t, sim, func(rc *RunnerConfig) {
		rc.Clock = clk
		rc.FrameInterval = 33 * time.Millisecond
	})
	require.NoError(t, r.Start(awb.ModeAuto, testutil.IdxD65))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 3; i++ {
		want := uint64(i + 1)
		require.Eventually(t, func() bool {
			clk.Advance(33 * time.Millisecond)
			return r.Stats().Frames >= want
		}, time.Second, 5*time.Millisecond)
	}
	cancel()
	assert.NoError(t, <-done)
}
