package ccm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awb/ccm"
	"github.com/banshee-data/awb/internal/awb/illum"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/testutil"
)

func newBlender(t *testing.T, damping bool) *ccm.Blender {
	t.Helper()
	set := testutil.MustCalibrationSet()
	refs, err := set.Resolve(testutil.Resolution)
	require.NoError(t, err)
	b, err := ccm.New(set, refs, ccm.Config{DampingEnabled: damping, HistogramThreshold: ccm.DefaultHistogramThreshold})
	require.NoError(t, err)
	return b
}

func matrixDelta(t *testing.T, want, got colormath.Mat3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[i][j], got[i][j], delta, "m[%d][%d]", i, j)
		}
	}
}

func TestSelect(t *testing.T) {
	b := newBlender(t, true)
	tests := []struct {
		name string
		sat  float64
		want colormath.Mat3
	}{
		{"above highest", 120, testutil.CCMatrix(100)},
		{"at highest", 100, testutil.CCMatrix(100)},
		{"between", 87, testutil.CCMatrix(87)},
		{"at lowest", 74, testutil.CCMatrix(74)},
		{"below lowest", 10, testutil.CCMatrix(74)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Select(testutil.IdxA, tt.sat)
			require.NoError(t, err)
			matrixDelta(t, tt.want, got.Matrix, 1e-12)
		})
	}

	// Offsets interpolate with the same factor.
	got, err := b.Select(testutil.IdxA, 87)
	require.NoError(t, err)
	assert.InDelta(t, -2, got.Offset[0], 1e-12)
	assert.InDelta(t, 1, got.Offset[2], 1e-12)
}

func TestSelectErrors(t *testing.T) {
	b := newBlender(t, true)
	_, err := b.Select(7, 90)
	assert.ErrorIs(t, err, awberr.ErrOutOfRange)
}

func TestOffsetScale(t *testing.T) {
	tests := []struct {
		name string
		h    isp.Histogram
		want float64
	}{
		{"nil histogram", nil, 1},
		{"bright", isp.Histogram{10, 90}, 1},
		{"at threshold", isp.Histogram{20, 80}, 1},
		{"dark", isp.Histogram{60, 40}, 0.5},
		{"all dark", isp.Histogram{100, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ccm.OffsetScale(tt.h, 0.2)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err := ccm.OffsetScale(isp.Histogram{0, 0}, 0.2)
	if !errors.Is(err, awberr.ErrDivisionByZero) {
		t.Errorf("empty histogram error = %v, want ErrDivisionByZero", err)
	}
}

func TestProcessRegionA(t *testing.T) {
	b := newBlender(t, true)
	// Sensor gain 4 maps to saturation 90 on every fixture curve.
	res, err := b.Process(ccm.Input{Region: illum.RegionA, Dominant: testutil.IdxD65, SensorGain: 4})
	require.NoError(t, err)
	assert.InDelta(t, 90, res.Saturation[testutil.IdxD65], 1e-12)
	matrixDelta(t, testutil.CCMatrix(90), res.Undamped.Matrix, 1e-12)
	assert.Equal(t, res.Undamped, res.Damped)
	assert.Equal(t, 1.0, res.OffsetScale)
}

func TestProcessWeightedBlend(t *testing.T) {
	b := newBlender(t, true)
	blend := []float64{0.25, 0.5, 0.25}
	res, err := b.Process(ccm.Input{Region: illum.RegionC, Dominant: testutil.IdxD65, Blend: blend, SensorGain: 1})
	require.NoError(t, err)
	// All fixture illuminants share matrices, so a convex blend reproduces them.
	matrixDelta(t, testutil.CCMatrix(100), res.Undamped.Matrix, 1e-12)
	assert.InDelta(t, -4, res.Undamped.Offset[0], 1e-12)

	_, err = b.Process(ccm.Input{Region: illum.RegionB, Dominant: 0, Blend: []float64{1}})
	assert.ErrorIs(t, err, awberr.ErrInvalidParm)
}

func TestProcessDamping(t *testing.T) {
	prev := isp.IdentityCrossTalk()
	in := ccm.Input{
		Region:        illum.RegionA,
		Dominant:      testutil.IdxA,
		SensorGain:    1,
		Damping:       0.75,
		Previous:      &prev,
		PreviousScale: 1,
		Histogram:     isp.Histogram{60, 40},
	}

	res, err := newBlender(t, true).Process(in)
	require.NoError(t, err)
	want := colormath.Identity().Lerp(testutil.CCMatrix(100), 0.75)
	matrixDelta(t, want, res.Damped.Matrix, 1e-12)
	assert.InDelta(t, 0.5, res.RawScale, 1e-12)
	assert.InDelta(t, 0.75+0.25*0.5, res.OffsetScale, 1e-12)

	res, err = newBlender(t, false).Process(in)
	require.NoError(t, err)
	matrixDelta(t, testutil.CCMatrix(100), res.Damped.Matrix, 1e-12)
	assert.InDelta(t, 0.5, res.OffsetScale, 1e-12)
	assert.InDelta(t, -2, res.Damped.Offset[0], 1e-12)
}

func TestNewValidation(t *testing.T) {
	set := testutil.MustCalibrationSet()
	refs, err := set.Resolve(testutil.Resolution)
	require.NoError(t, err)
	_, err = ccm.New(set, refs, ccm.Config{HistogramThreshold: 1})
	assert.ErrorIs(t, err, awberr.ErrInvalidParm)
	_, err = ccm.New(nil, refs, ccm.Config{})
	assert.ErrorIs(t, err, awberr.ErrNullPointer)
}
