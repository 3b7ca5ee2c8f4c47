package expprior

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
)

func testConfig() Config {
	return Config{
		KFactor:            10,
		ProbSlope:          DefaultProbSlope,
		ProbIntercept:      DefaultProbIntercept,
		FilterSize:         4,
		InitialIndoorProb:  0.5,
		DeviationThreshold: 0.05,
		DampingAddStep:     0.05,
		DampingSubStep:     0.1,
		DampingMin:         0.2,
		DampingMax:         0.9,
		DampingInit:        0.5,
	}
}

func TestOutdoorProbability(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		exposure float64
		want     float64
		door     calib.DoorType
	}{
		{"bright indoor clamps to half", 2, 0.5, calib.Indoor},
		{"unit exposure", 1, 0.5, calib.Indoor},
		{"transition", math.Exp(-1), 0.8, calib.Transition},
		{"sunlight clamps to one", 0.001, 1, calib.Outdoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.OutdoorProbability(tt.exposure)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Equal(t, tt.door, Classify(got))
		})
	}
}

func TestProcessProbabilitiesSumToOne(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	st := e.InitialState()
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		res, err := e.Process(st, 0.5+8*r.Float64(), 0.0001+0.03*r.Float64())
		require.NoError(t, err)
		assert.InDelta(t, 1.0, res.Indoor+res.Outdoor, 1e-12)
		assert.InDelta(t, 1.0, res.RawIndoor+res.RawOutdoor, 1e-12)
		st = res.State
	}
}

// The damping coefficient must stay inside its bounds for any sample
// sequence and any step sizes.
func TestDampingCoefficientBounds(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		cfg := testConfig()
		cfg.DampingMin = 0.4 * r.Float64()
		cfg.DampingMax = cfg.DampingMin + (1-cfg.DampingMin)*r.Float64()
		cfg.DampingInit = cfg.DampingMin
		cfg.DampingAddStep = r.Float64()
		cfg.DampingSubStep = r.Float64()
		cfg.DeviationThreshold = 0.2 * r.Float64()
		cfg.FilterSize = 1 + r.Intn(10)

		e, err := New(cfg)
		require.NoError(t, err)
		st := e.InitialState()
		for i := 0; i < 200; i++ {
			// Alternate between indoor and outdoor exposures at random.
			exposure := math.Exp(-4 * r.Float64())
			res, err := e.Process(st, exposure, 1/cfg.KFactor)
			require.NoError(t, err)
			if res.Damping < cfg.DampingMin || res.Damping > cfg.DampingMax {
				t.Fatalf("trial %d frame %d: damping %v outside [%v, %v]", trial, i, res.Damping, cfg.DampingMin, cfg.DampingMax)
			}
			st = res.State
		}
	}
}

func TestDampingStepsFollowDeviation(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	st := e.InitialState()

	// Steady indoor exposure: samples equal the mean, damping rises.
	res, err := e.Process(st, 4, 0.03)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, res.Damping, 1e-12)

	// A sudden switch to sunlight deviates from the mean, damping falls.
	res, err = e.Process(res.State, 1, 0.0001)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, res.Damping, 1e-12)
}

func TestExposureFloor(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	st := e.InitialState()
	before := st.Ring.Samples()

	_, err = e.Process(st, 0, 0.01)
	if !errors.Is(err, ErrExposureRange) || !errors.Is(err, awberr.ErrOutOfRange) {
		t.Fatalf("Process() error = %v, want ErrExposureRange", err)
	}
	assert.Equal(t, before, st.Ring.Samples())
	assert.Equal(t, 0.5, st.Damping)
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	st := e.InitialState()
	_, err = e.Process(st, 1, 0.0001)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, st.Ring.Samples())
}

func TestNilRing(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	_, err = e.Process(State{}, 1, 0.1)
	assert.ErrorIs(t, err, awberr.ErrNullPointer)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.FilterSize = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, awberr.ErrInvalidParm)

	cfg = testConfig()
	cfg.DampingMin, cfg.DampingMax = 0.9, 0.1
	_, err = New(cfg)
	assert.ErrorIs(t, err, awberr.ErrInvalidParm)
}
