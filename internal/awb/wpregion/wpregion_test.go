package wpregion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/awb/wpregion"
	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/testutil"
)

var window = isp.Window{Width: 640, Height: 480}

func newAdapter(t *testing.T, curves calib.RegionCurves) *wpregion.Adapter {
	t.Helper()
	a, err := wpregion.New(wpregion.Config{
		Mode:     isp.MeasYCbCr,
		Window:   window,
		MinWhite: 1000,
		MaxWhite: 50000,
		Inc:      0.05,
		Dec:      0.05,
		Curves:   curves,
	})
	require.NoError(t, err)
	return a
}

func TestStep(t *testing.T) {
	a := newAdapter(t, testutil.MustCalibrationSet().Global.Region)
	tests := []struct {
		name       string
		rs         float64
		white      uint32
		outOfRange bool
		want       float64
		action     wpregion.Action
	}{
		{"too few grows", 0.5, 10, false, 0.55, wpregion.ActionGrow},
		{"grow saturates", 0.98, 10, false, 1, wpregion.ActionGrow},
		{"too many in range holds", 0.5, 60000, false, 0.5, wpregion.ActionHold},
		{"too many out of range shrinks", 0.5, 60000, true, 0.45, wpregion.ActionShrink},
		{"shrink saturates", 0.02, 60000, true, 0, wpregion.ActionShrink},
		{"working range holds", 0.5, 20000, true, 0.5, wpregion.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, act := a.Step(tt.rs, tt.white, tt.outOfRange)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Equal(t, tt.action, act)
		})
	}
}

func TestDeriveFixture(t *testing.T) {
	a := newAdapter(t, testutil.MustCalibrationSet().Global.Region)
	got := a.Derive(0.5, 1.4)

	// CbMin and CrMin blend to -14, MaxCSum to 28: the region centres on neutral.
	assert.Equal(t, uint8(128), got.RefCb)
	assert.Equal(t, uint8(128), got.RefCr)
	assert.Equal(t, uint8(28), got.MaxCSum)
	assert.Equal(t, uint8(3), got.MinC)
	assert.Equal(t, wpregion.DefaultMinYMaxG, got.MinYMaxG)
	// The +Cb corner clips blue first: 16 + (255 - 2.017*28)/1.164.
	assert.Equal(t, uint8(186), got.MaxY)
	assert.Equal(t, isp.MeasYCbCr, got.Mode)
	assert.Equal(t, window, got.Window)
}

func TestDeriveOptionalCurves(t *testing.T) {
	curves := testutil.MustCalibrationSet().Global.Region
	xs := []float64{0.9, 1.9}
	flat := func(lo, hi float64) calib.CurvePair {
		return calib.CurvePair{
			RegionMin: interp.Curve{X: xs, Y: []float64{lo, lo}},
			RegionMax: interp.Curve{X: xs, Y: []float64{hi, hi}},
		}
	}
	curves.MaxY = flat(200, 240)
	curves.MinYMaxG = flat(20, 40)
	curves.RefCb = flat(4, 4)
	curves.RefCr = flat(-300, -300)
	curves.MinC = calib.CurvePair{}

	got := newAdapter(t, curves).Derive(1, 1.4)
	assert.Equal(t, uint8(240), got.MaxY)
	assert.Equal(t, uint8(40), got.MinYMaxG)
	assert.Equal(t, wpregion.DefaultMinC, got.MinC)
	// cb: -20 + 20 + 4
	assert.Equal(t, uint8(132), got.RefCb)
	assert.Equal(t, uint8(0), got.RefCr, "reference chroma clamps at 0")
}

func TestProcess(t *testing.T) {
	a := newAdapter(t, testutil.MustCalibrationSet().Global.Region)
	res := a.Process(wpregion.Input{RegionSize: 0.5, NoWhitePixel: 0, RgProj: 1.4})
	assert.Equal(t, wpregion.ActionGrow, res.Action)
	assert.InDelta(t, 0.55, res.RegionSize, 1e-12)
	assert.Equal(t, a.Derive(0.55, 1.4), res.Measure)
}

func TestConfigValidate(t *testing.T) {
	curves := testutil.MustCalibrationSet().Global.Region
	tests := []struct {
		name string
		cfg  wpregion.Config
		want error
	}{
		{"bad mode", wpregion.Config{Mode: "xyz", Curves: curves}, awberr.ErrInvalidParm},
		{"inverted range", wpregion.Config{Mode: isp.MeasRGB, MinWhite: 10, MaxWhite: 5, Curves: curves}, awberr.ErrOutOfRange},
		{"step too big", wpregion.Config{Mode: isp.MeasRGB, Inc: 2, Curves: curves}, awberr.ErrOutOfRange},
		{"missing curves", wpregion.Config{Mode: isp.MeasRGB}, awberr.ErrInvalidParm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wpregion.New(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
