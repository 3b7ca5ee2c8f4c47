package testutil

import (
	"fmt"
	"math"

	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

// Resolution is the output resolution the fixture calibrates.
const Resolution = "1920x1080"

// KFactor converts gain×integration time into normalised exposure.
const KFactor = 10.0

// Illuminant indices in CalibrationSet.
const (
	IdxA = iota
	IdxD65
	IdxF2CWF
)

type fixtureIlluminant struct {
	name  string
	door  calib.DoorType
	temp  float64
	gains isp.Gains
}

var fixtureIlluminants = []fixtureIlluminant{
	{"A", calib.Indoor, 2856, isp.Gains{Red: 1.05, GreenR: 1, GreenB: 1, Blue: 2.35}},
	{"D65", calib.Outdoor, 6504, isp.Gains{Red: 1.6, GreenR: 1, GreenB: 1, Blue: 1.55}},
	{"F2_CWF", calib.Indoor, 4150, isp.Gains{Red: 1.35, GreenR: 1, GreenB: 1, Blue: 2.0}},
}

// PCABasis is the fixture projection: a red/blue axis and a green/magenta axis.
var PCABasis = [2][3]float64{
	{1 / math.Sqrt2, 0, -1 / math.Sqrt2},
	{1 / math.Sqrt(6), -2 / math.Sqrt(6), 1 / math.Sqrt(6)},
}

// PCAMean is the fixture projection origin.
var PCAMean = [3]float64{0.33, 0.44, 0.23}

// Likelihood model spread and region thresholds shared by every profile.
const (
	GaussSigma     = 0.02
	ThresholdLower = 0.2
	ThresholdUpper = 0.6
)

// Response returns the normalised RGB a white patch produces under the
// given component gains; it is proportional to the reciprocal gains.
func Response(g isp.Gains) colormath.Vec3 {
	v := colormath.Vec3{1 / g.Red, 1 / g.Green(), 1 / g.Blue}
	return v.Scale(1 / v.Sum())
}

// RawResponse returns Response(g) scaled into the 8-bit measurement range.
func RawResponse(g isp.Gains) colormath.Vec3 {
	return Response(g).Scale(330)
}

// Project maps normalised RGB into the fixture PCA space.
func Project(n colormath.Vec3) [2]float64 {
	var x [2]float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			x[r] += PCABasis[r][c] * (n[c] - PCAMean[c])
		}
	}
	return x
}

// IlluminantGains returns the fixture component gains for index i.
func IlluminantGains(i int) isp.Gains {
	return fixtureIlluminants[i].gains
}

// CCMatrix returns a saturation-dependent correction matrix: identity at
// saturation 0 and a typical sensor correction at 100.
func CCMatrix(saturation float64) colormath.Mat3 {
	full := colormath.Mat3{
		{1.60, -0.45, -0.15},
		{-0.30, 1.50, -0.20},
		{-0.05, -0.55, 1.60},
	}
	return full.Lerp(colormath.Identity(), saturation/100)
}

// RadialTable builds a shading table whose gain rises with squared radius.
// strength 1 doubles the corner gain relative to the centre.
func RadialTable(strength float64) isp.LscTable {
	var t isp.LscTable
	half := float64(isp.LscGridSize-1) / 2
	for y := 0; y < isp.LscGridSize; y++ {
		for x := 0; x < isp.LscGridSize; x++ {
			dx := (float64(x) - half) / half
			dy := (float64(y) - half) / half
			r2 := (dx*dx + dy*dy) / 2
			v := uint16(math.Round(1024 * (1 + strength*r2)))
			i := y*isp.LscGridSize + x
			t.Red[i] = v
			t.GreenR[i] = v
			t.GreenB[i] = v
			t.Blue[i] = uint16(math.Round(float64(v) * 1.05))
		}
	}
	for i := range t.XSector {
		t.XSector[i] = 120
		t.YSector[i] = 67
	}
	return t
}

func pair(xs []float64, minY, maxY float64) calib.CurvePair {
	return calib.CurvePair{
		RegionMin: interp.Curve{X: xs, Y: []float64{minY, minY}},
		RegionMax: interp.Curve{X: xs, Y: []float64{maxY, maxY}},
	}
}

// CenterLine returns the fixture centre line through the A and D65 ratios.
func CenterLine() calib.CenterLine {
	a := fixtureIlluminants[IdxA].gains
	d := fixtureIlluminants[IdxD65].gains
	dRg := d.Red - a.Red
	dBg := d.Blue - a.Blue
	n := math.Hypot(dRg, dBg)
	// Normal of the A→D65 direction, oriented with a positive Bg component.
	nRg, nBg := -dBg/n, dRg/n
	if nBg < 0 {
		nRg, nBg = -nRg, -nBg
	}
	return calib.CenterLine{NormalRg: nRg, NormalBg: nBg, Distance: nRg*a.Red + nBg*a.Blue}
}

// CalibrationSet returns a fresh three-illuminant calibration.
func CalibrationSet() *calib.Set {
	rgProj := []float64{0.9, 1.9}
	set := &calib.Set{
		ID:   "fixture",
		Name: "three-illuminant fixture",
		Global: calib.Global{
			PCA:              PCABasis,
			PCAMean:          PCAMean,
			KFactor:          KFactor,
			CenterLine:       CenterLine(),
			RgProjIndoorMin:  0.95,
			RgProjOutdoorMin: 1.3,
			RgProjMax:        1.85,
			RgProjMaxSky:     1.8,
			ClipUpper:        interp.Curve{X: rgProj, Y: []float64{0.25, 0.25}},
			ClipLower:        interp.Curve{X: rgProj, Y: []float64{-0.25, -0.25}},
			FadeUpper:        interp.Curve{X: rgProj, Y: []float64{0.2, 0.2}},
			FadeLower:        interp.Curve{X: rgProj, Y: []float64{-0.2, -0.2}},
			Region: calib.RegionCurves{
				CbMin:   pair(rgProj, -8, -20),
				CrMin:   pair(rgProj, -8, -20),
				MaxCSum: pair(rgProj, 16, 40),
				MinC:    pair(rgProj, 2, 4),
			},
			RegionInit:    0.5,
			RegionSizeInc: 0.05,
			RegionSizeDec: 0.05,
			IIR: calib.IIR{
				FilterSize:         8,
				InitialIndoorProb:  0.5,
				DeviationThreshold: 0.05,
				DampingAddStep:     0.05,
				DampingSubStep:     0.1,
				DampingMin:         0.2,
				DampingMax:         0.9,
				DampingInit:        0.5,
			},
			ResolutionNames: []string{Resolution},
		},
	}

	for _, fi := range fixtureIlluminants {
		mean := Project(Response(fi.gains))
		hi := fi.name + "_sat100"
		lo := fi.name + "_sat74"
		vHi := fi.name + "_vig100"
		vLo := fi.name + "_vig70"
		set.Illuminants = append(set.Illuminants, calib.Illuminant{
			Name:        fi.name,
			DoorType:    fi.door,
			Temperature: fi.temp,
			Gaussian: calib.Gaussian{
				Mean:       mean,
				Covariance: [2][2]float64{{GaussSigma * GaussSigma, 0}, {0, GaussSigma * GaussSigma}},
				Factor:     1,
			},
			Thresholds:      calib.Thresholds{Lower: ThresholdLower, Upper: ThresholdUpper},
			Gains:           fi.gains,
			CrossTalk:       isp.CrossTalk{Matrix: CCMatrix(100)},
			SaturationCurve: interp.Curve{X: []float64{1, 4, 8}, Y: []float64{100, 90, 74}},
			VignettingCurve: interp.Curve{X: []float64{1, 8}, Y: []float64{100, 70}},
			// Deliberately listed low-first to exercise sorting.
			CCProfiles:  []string{lo, hi},
			LSCProfiles: map[string][]string{Resolution: {vLo, vHi}},
		})
		set.CC = append(set.CC,
			calib.CCProfile{Name: hi, Saturation: 100, CrossTalk: isp.CrossTalk{Matrix: CCMatrix(100), Offset: colormath.Vec3{-4, 0, 2}}},
			calib.CCProfile{Name: lo, Saturation: 74, CrossTalk: isp.CrossTalk{Matrix: CCMatrix(74)}},
		)
		set.LSC = append(set.LSC,
			calib.LSCProfile{Name: vHi, Resolution: Resolution, Vignetting: 100, Table: RadialTable(1.0)},
			calib.LSCProfile{Name: vLo, Resolution: Resolution, Vignetting: 70, Table: RadialTable(0.5)},
		)
	}
	return set
}

// MustCalibrationSet returns CalibrationSet after validating it.
func MustCalibrationSet() *calib.Set {
	set := CalibrationSet()
	if err := set.Validate(); err != nil {
		panic(fmt.Sprintf("fixture calibration invalid: %v", err))
	}
	return set
}

// NeutralMeasurement returns the YCbCr measurement the hardware reports
// when the scene is lit by illuminant i and the current gains and cross
// talk are unity and identity.
func NeutralMeasurement(i int, whitePixels uint32) isp.Measurement {
	rgb := RawResponse(fixtureIlluminants[i].gains)
	return isp.Measurement{Means: colormath.RGBToYCbCr(rgb), NoWhitePixel: whitePixels}
}

// Scene returns a simulator scene lit by illuminant i.
func Scene(i int, sensorGain, integrationTime float64) isp.Scene {
	return isp.SceneForGains(fixtureIlluminants[i].gains, sensorGain, integrationTime, 20000)
}
