package lsc_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awb/lsc"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/testutil"
)

const corner = 0

var centre = (isp.LscCells - 1) / 2

func newBlender(t *testing.T, set *calib.Set, damping bool) *lsc.Blender {
	t.Helper()
	refs, err := set.Resolve(testutil.Resolution)
	require.NoError(t, err)
	b, err := lsc.New(set, refs, lsc.Config{DampingEnabled: damping})
	require.NoError(t, err)
	return b
}

func TestToQ16(t *testing.T) {
	tests := []struct {
		in   float64
		want lsc.Q16
	}{
		{-1, 0},
		{0, 0},
		{0.5, 32768},
		{1.0 / 3, 21845},
		{1, lsc.One},
		{2, lsc.One},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lsc.ToQ16(tt.in), "ToQ16(%g)", tt.in)
	}
	assert.Equal(t, 0.5, lsc.Q16(32768).Float())
}

func TestBlendRounding(t *testing.T) {
	a := testutil.RadialTable(1)
	b := testutil.RadialTable(0.5)

	// 0.5·2048 + 0.5·1536 = 1792 exactly; blue 0.5·(2150+1613) rounds half up.
	got := lsc.Blend(&a, &b, lsc.ToQ16(0.5))
	assert.Equal(t, uint16(1792), got.Red[corner])
	assert.Equal(t, uint16(1882), got.Blue[corner])
	assert.Equal(t, uint16(1024), got.GreenR[centre])
	assert.Equal(t, a.XSector, got.XSector)

	if diff := cmp.Diff(a, lsc.Blend(&a, &b, lsc.One)); diff != "" {
		t.Errorf("Blend(One) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.Red, lsc.Blend(&a, &b, 0).Red); diff != "" {
		t.Errorf("Blend(0) mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSelectsByVignetting(t *testing.T) {
	b := newBlender(t, testutil.MustCalibrationSet(), true)
	tests := []struct {
		name       string
		gain       float64
		vignetting float64
		cornerRed  uint16
	}{
		{"low gain", 1, 100, 2048},
		{"mid gain", 4.5, 85, 1792},
		{"high gain", 8, 70, 1536},
		{"beyond curve", 16, 70, 1536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Process(lsc.Input{Dominant: testutil.IdxA, SensorGain: tt.gain})
			require.NoError(t, err)
			assert.InDelta(t, tt.vignetting, res.Vignetting, 1e-9)
			assert.Equal(t, tt.cornerRed, res.Damped.Red[corner])
			assert.False(t, res.Held)
		})
	}
}

func TestProcessDamping(t *testing.T) {
	prev := testutil.RadialTable(0.5)
	in := lsc.Input{Dominant: testutil.IdxD65, SensorGain: 1, Damping: 0.5, Previous: &prev}

	res, err := newBlender(t, testutil.MustCalibrationSet(), true).Process(in)
	require.NoError(t, err)
	assert.Equal(t, uint16(2048), res.Undamped.Red[corner])
	assert.Equal(t, uint16(1792), res.Damped.Red[corner])

	res, err = newBlender(t, testutil.MustCalibrationSet(), false).Process(in)
	require.NoError(t, err)
	assert.Equal(t, uint16(2048), res.Damped.Red[corner])
}

func TestProcessHoldsWithoutProfiles(t *testing.T) {
	set := testutil.MustCalibrationSet()
	set.Illuminants[testutil.IdxF2CWF].LSCProfiles = nil
	b := newBlender(t, set, true)
	assert.False(t, b.Has(testutil.IdxF2CWF))

	prev := testutil.RadialTable(0.25)
	res, err := b.Process(lsc.Input{Dominant: testutil.IdxF2CWF, SensorGain: 1, Previous: &prev})
	require.NoError(t, err)
	assert.True(t, res.Held)
	assert.Equal(t, prev, res.Damped)

	_, err = b.Process(lsc.Input{Dominant: testutil.IdxF2CWF, SensorGain: 1})
	assert.ErrorIs(t, err, awberr.ErrNotSupported)

	_, err = b.Initial(testutil.IdxF2CWF)
	assert.ErrorIs(t, err, awberr.ErrNotSupported)
}

func TestInitialIsHighestVignetting(t *testing.T) {
	b := newBlender(t, testutil.MustCalibrationSet(), true)
	got, err := b.Initial(testutil.IdxA)
	require.NoError(t, err)
	assert.Equal(t, testutil.RadialTable(1), got)
}
