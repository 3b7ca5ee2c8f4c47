package illum_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/testutil"
)

var even = illum.Prior{Indoor: 0.5, Outdoor: 0.5}

func newEstimator(t *testing.T) *illum.Estimator {
	t.Helper()
	e, err := illum.New(testutil.MustCalibrationSet())
	require.NoError(t, err)
	return e
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

// Likelihood exactly at the upper threshold is Region A and exactly at the
// lower threshold is Region C.
func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		name       string
		l          float64
		want       illum.Region
		transition float64
	}{
		{"above upper", 0.9, illum.RegionA, 1},
		{"at upper", 0.6, illum.RegionA, 1},
		{"between", 0.4, illum.RegionB, 0.5},
		{"at lower", 0.2, illum.RegionC, 0},
		{"below lower", 0.05, illum.RegionC, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, tr := illum.Classify(tt.l, 0.2, 0.6)
			assert.Equal(t, tt.want, r)
			assert.InDelta(t, tt.transition, tr, 1e-12)
		})
	}
}

func TestEstimatePureIlluminants(t *testing.T) {
	e := newEstimator(t)
	for _, idx := range []int{testutil.IdxA, testutil.IdxD65, testutil.IdxF2CWF} {
		g := testutil.IlluminantGains(idx)
		res, err := e.Estimate(testutil.RawResponse(g), even)
		require.NoError(t, err)

		assert.Equal(t, idx, res.Dominant)
		assert.Equal(t, illum.RegionA, res.Region)
		assert.InDelta(t, 1.0, res.Likelihood[idx], 1e-9)
		assert.InDelta(t, 1.0, sum(res.Weight), 1e-12)
		assert.InDelta(t, 1.0, res.Blend[idx], 0)

		assert.InDelta(t, g.Red, res.GrayWorld.Red, 1e-9)
		assert.InDelta(t, g.Blue, res.GrayWorld.Blue, 1e-9)
		assert.InDelta(t, 1.0, res.GrayWorld.GreenR, 1e-9)
	}
}

// shifted moves the D65 response along the first PCA axis by delta.
func shifted(delta float64) colormath.Vec3 {
	n := testutil.Response(testutil.IlluminantGains(testutil.IdxD65))
	axis := testutil.PCABasis[0]
	for i := range n {
		n[i] += delta * axis[i]
	}
	return n.Scale(300)
}

func TestEstimateRegions(t *testing.T) {
	e := newEstimator(t)
	sigma := testutil.GaussSigma
	distanceFor := func(l float64) float64 { return -sigma * math.Sqrt(-2*math.Log(l)) }

	tests := []struct {
		name   string
		target float64
		want   illum.Region
	}{
		{"region A", 0.8, illum.RegionA},
		{"region B", 0.4, illum.RegionB},
		{"region C", 0.1, illum.RegionC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Estimate(shifted(distanceFor(tt.target)), even)
			require.NoError(t, err)
			assert.Equal(t, testutil.IdxD65, res.Dominant)
			assert.InDelta(t, tt.target, res.Likelihood[testutil.IdxD65], 1e-6)
			assert.Equal(t, tt.want, res.Region)
			assert.InDelta(t, 1.0, sum(res.Weight), 1e-12)
			assert.InDelta(t, 1.0, sum(res.Blend), 1e-12)
		})
	}
}

func TestRegionBBlendIsLinear(t *testing.T) {
	e := newEstimator(t)
	res, err := e.Estimate(shifted(-testutil.GaussSigma*math.Sqrt(-2*math.Log(0.4))), even)
	require.NoError(t, err)
	require.Equal(t, illum.RegionB, res.Region)

	tr := (0.4 - testutil.ThresholdLower) / (testutil.ThresholdUpper - testutil.ThresholdLower)
	assert.InDelta(t, tr, res.Transition, 1e-6)
	for i := range res.Blend {
		want := (1 - res.Transition) * res.Weight[i]
		if i == res.Dominant {
			want += res.Transition
		}
		assert.InDelta(t, want, res.Blend[i], 1e-12)
	}
}

func TestPriorFavoursDoorType(t *testing.T) {
	e := newEstimator(t)
	// Halfway between A and D65 lies close to F2_CWF; an indoor prior must
	// not pick the outdoor profile.
	a := testutil.Response(testutil.IlluminantGains(testutil.IdxA))
	d := testutil.Response(testutil.IlluminantGains(testutil.IdxD65))
	mid := a.Lerp(d, 0.5).Scale(300)

	indoor, err := e.Estimate(mid, illum.Prior{Indoor: 0.9, Outdoor: 0.1})
	if err == nil {
		assert.NotEqual(t, testutil.IdxD65, indoor.Dominant)
	}

	res, err := e.Estimate(testutil.RawResponse(testutil.IlluminantGains(testutil.IdxD65)), illum.Prior{Indoor: 1, Outdoor: 0})
	if err == nil {
		assert.NotEqual(t, testutil.IdxD65, res.Dominant, "outdoor profile must be suppressed by a fully indoor prior")
	} else {
		assert.ErrorIs(t, err, awberr.ErrCanceled)
	}
}

func TestEstimateFailures(t *testing.T) {
	e := newEstimator(t)

	_, err := e.Estimate(colormath.Vec3{}, even)
	if !errors.Is(err, illum.ErrMeansRange) || !errors.Is(err, awberr.ErrOutOfRange) {
		t.Errorf("zero means error = %v, want ErrMeansRange", err)
	}

	// Pure blue is far from every profile: the likelihood sum underflows.
	_, err = e.Estimate(colormath.Vec3{0.001, 0.001, 300}, even)
	if !errors.Is(err, awberr.ErrCanceled) {
		t.Errorf("far-away means error = %v, want ErrCanceled", err)
	}
}

func TestGrayWorldZeroChannel(t *testing.T) {
	_, err := illum.GrayWorld(colormath.Vec3{0.5, 0.5, 0})
	assert.ErrorIs(t, err, awberr.ErrOutOfRange)
}

func TestNewRejectsBadCovariance(t *testing.T) {
	set := testutil.CalibrationSet()
	set.Illuminants[0].Gaussian.Covariance = [2][2]float64{{0, 0}, {0, 0}}
	_, err := illum.New(set)
	assert.ErrorIs(t, err, illum.ErrInvalidProfile)

	_, err = illum.New(nil)
	assert.ErrorIs(t, err, awberr.ErrNullPointer)
}
