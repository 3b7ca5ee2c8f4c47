package calib

import (
	"github.com/banshee-data/awb/internal/awb/interp"
	"github.com/banshee-data/awb/internal/isp"
)

// MaxIlluminants bounds the illuminant profile table.
const MaxIlluminants = 32

// DoorType classifies a light source, or an exposure, as indoor or outdoor.
type DoorType string

const (
	Indoor     DoorType = "indoor"
	Outdoor    DoorType = "outdoor"
	Transition DoorType = "transition"
)

// IsValid reports whether d is a known door type.
func (d DoorType) IsValid() bool {
	switch d {
	case Indoor, Outdoor, Transition:
		return true
	}
	return false
}

func (d DoorType) String() string { return string(d) }

// Gaussian is a profile's likelihood model in PCA space.
type Gaussian struct {
	Mean       [2]float64    `json:"mean"`
	Covariance [2][2]float64 `json:"covariance"`
	Factor     float64       `json:"factor"`
}

// Thresholds split a profile's likelihood into confidence regions.
type Thresholds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Illuminant is one calibrated reference light source.
type Illuminant struct {
	Name     string   `json:"name"`
	DoorType DoorType `json:"door_type"`
	// Temperature is the correlated colour temperature in Kelvin, 0 if unknown.
	Temperature float64       `json:"temperature,omitempty"`
	Gaussian    Gaussian      `json:"gaussian"`
	Thresholds  Thresholds    `json:"thresholds"`
	Gains       isp.Gains     `json:"gains"`
	CrossTalk   isp.CrossTalk `json:"cross_talk"`
	// SaturationCurve maps sensor gain to colour saturation.
	SaturationCurve interp.Curve `json:"saturation_curve"`
	// VignettingCurve maps sensor gain to vignetting.
	VignettingCurve interp.Curve `json:"vignetting_curve"`
	// CCProfiles names the colour correction profiles of this illuminant.
	CCProfiles []string `json:"cc_profiles"`
	// LSCProfiles names shading profiles per output resolution.
	LSCProfiles map[string][]string `json:"lsc_profiles"`
}

// CCProfile is a colour correction entry measured at one saturation.
type CCProfile struct {
	Name       string        `json:"name"`
	Saturation float64       `json:"saturation"`
	CrossTalk  isp.CrossTalk `json:"cross_talk"`
}

// LSCProfile is a shading table measured at one vignetting level.
type LSCProfile struct {
	Name       string       `json:"name"`
	Resolution string       `json:"resolution"`
	Vignetting float64      `json:"vignetting"`
	Table      isp.LscTable `json:"table"`
}

// CenterLine is the calibrated locus n·p = Distance in (Rg, Bg) space, with
// n = (NormalRg, NormalBg) of unit length.
type CenterLine struct {
	NormalRg float64 `json:"normal_rg"`
	NormalBg float64 `json:"normal_bg"`
	Distance float64 `json:"distance"`
}

// CurvePair holds a measurement-window curve at the smallest and largest
// region size.
type CurvePair struct {
	RegionMin interp.Curve `json:"region_min"`
	RegionMax interp.Curve `json:"region_max"`
}

// Empty reports whether the pair is absent from the calibration.
func (p CurvePair) Empty() bool {
	return p.RegionMin.Empty() || p.RegionMax.Empty()
}

// RegionCurves drive the measurement window. All curves are indexed by the
// projected Rg ratio. CbMin, CrMin and MaxCSum are mandatory.
type RegionCurves struct {
	CbMin    CurvePair `json:"cb_min"`
	CrMin    CurvePair `json:"cr_min"`
	MaxCSum  CurvePair `json:"max_csum"`
	MinC     CurvePair `json:"min_c"`
	MaxY     CurvePair `json:"max_y"`
	MinYMaxG CurvePair `json:"min_y_max_g"`
	RefCb    CurvePair `json:"ref_cb"`
	RefCr    CurvePair `json:"ref_cr"`
}

// IIR tunes the exposure-prior filter and the damping coefficient.
type IIR struct {
	FilterSize         int     `json:"filter_size"`
	InitialIndoorProb  float64 `json:"initial_indoor_prob"`
	DeviationThreshold float64 `json:"deviation_threshold"`
	DampingAddStep     float64 `json:"damping_add_step"`
	DampingSubStep     float64 `json:"damping_sub_step"`
	DampingMin         float64 `json:"damping_min"`
	DampingMax         float64 `json:"damping_max"`
	DampingInit        float64 `json:"damping_init"`
}

// Global is the sensor-wide white-balance tuning.
type Global struct {
	// PCA projects normalised RGB minus PCAMean onto two components.
	PCA     [2][3]float64 `json:"pca"`
	PCAMean [3]float64    `json:"pca_mean"`
	KFactor float64       `json:"k_factor"`

	CenterLine       CenterLine `json:"center_line"`
	RgProjIndoorMin  float64    `json:"rg_proj_indoor_min"`
	RgProjOutdoorMin float64    `json:"rg_proj_outdoor_min"`
	RgProjMax        float64    `json:"rg_proj_max"`
	RgProjMaxSky     float64    `json:"rg_proj_max_sky"`

	// Signed distance curves over RgProj; lower curves are negative.
	ClipUpper interp.Curve `json:"clip_upper"`
	ClipLower interp.Curve `json:"clip_lower"`
	FadeUpper interp.Curve `json:"fade_upper"`
	FadeLower interp.Curve `json:"fade_lower"`

	Region          RegionCurves `json:"region"`
	RegionInit      float64      `json:"region_init"`
	RegionSizeInc   float64      `json:"region_size_inc"`
	RegionSizeDec   float64      `json:"region_size_dec"`
	IIR             IIR          `json:"iir"`
	ResolutionNames []string     `json:"resolutions"`
}

// Set is one complete calibration for a sensor.
type Set struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Global      Global       `json:"global"`
	Illuminants []Illuminant `json:"illuminants"`
	CC          []CCProfile  `json:"cc"`
	LSC         []LSCProfile `json:"lsc"`
}
