package calib

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/isp"
)

var (
	// ErrInvalidSet reports calibration that fails validation.
	ErrInvalidSet = fmt.Errorf("%w: invalid calibration", awberr.ErrInvalidParm)
	// ErrTooManyIlluminants reports a profile table above MaxIlluminants.
	ErrTooManyIlluminants = fmt.Errorf("%w: too many illuminants", awberr.ErrOutOfRange)
	// ErrUnknownProfile reports a profile name that is not in the set.
	ErrUnknownProfile = fmt.Errorf("%w: unknown profile", awberr.ErrInvalidParm)
)

// MaxCrossTalkCond bounds the 2-norm condition number of every calibrated
// cross-talk matrix.
const MaxCrossTalkCond = 1e4

// Validate checks the structural consistency of the set.
func (s *Set) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil calibration set", awberr.ErrNullPointer)
	}
	n := len(s.Illuminants)
	if n == 0 {
		return fmt.Errorf("%w: no illuminants", ErrInvalidSet)
	}
	if n > MaxIlluminants {
		return fmt.Errorf("%w: %d > %d", ErrTooManyIlluminants, n, MaxIlluminants)
	}
	if err := s.Global.validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, n)
	for i := range s.Illuminants {
		il := &s.Illuminants[i]
		if il.Name == "" {
			return fmt.Errorf("%w: illuminant %d has no name", ErrInvalidSet, i)
		}
		if seen[il.Name] {
			return fmt.Errorf("%w: duplicate illuminant %q", ErrInvalidSet, il.Name)
		}
		seen[il.Name] = true
		if err := il.validate(); err != nil {
			return fmt.Errorf("illuminant %q: %w", il.Name, err)
		}
	}
	for _, p := range s.CC {
		if err := validateCrossTalk(p.CrossTalk); err != nil {
			return fmt.Errorf("cc profile %q: %w", p.Name, err)
		}
	}
	return nil
}

func validateCrossTalk(ct isp.CrossTalk) error {
	if c := ct.Matrix.Cond(); math.IsNaN(c) || c > MaxCrossTalkCond {
		return fmt.Errorf("%w: cross talk condition number %.3g above %g", ErrInvalidSet, c, MaxCrossTalkCond)
	}
	return nil
}

func (il *Illuminant) validate() error {
	if il.DoorType != Indoor && il.DoorType != Outdoor {
		return fmt.Errorf("%w: door type %q", ErrInvalidSet, il.DoorType)
	}
	if il.Gains.Min() < awberr.DivMin {
		return fmt.Errorf("%w: non-positive component gain", ErrInvalidSet)
	}
	if il.Thresholds.Lower > il.Thresholds.Upper {
		return fmt.Errorf("%w: thresholds lower %g > upper %g", ErrInvalidSet, il.Thresholds.Lower, il.Thresholds.Upper)
	}
	if err := validateCrossTalk(il.CrossTalk); err != nil {
		return err
	}
	if il.Gaussian.Factor <= 0 {
		return fmt.Errorf("%w: gaussian factor %g", ErrInvalidSet, il.Gaussian.Factor)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(il.Gaussian.CovarianceSym()); !ok {
		return fmt.Errorf("%w: covariance is not positive definite", ErrInvalidSet)
	}
	if err := il.SaturationCurve.Validate(); err != nil {
		return fmt.Errorf("saturation curve: %w", err)
	}
	if err := il.VignettingCurve.Validate(); err != nil {
		return fmt.Errorf("vignetting curve: %w", err)
	}
	if len(il.CCProfiles) == 0 {
		return fmt.Errorf("%w: no colour correction profiles", ErrInvalidSet)
	}
	return nil
}

// CovarianceSym returns the covariance as a gonum symmetric matrix.
func (g Gaussian) CovarianceSym() *mat.SymDense {
	c := g.Covariance
	return mat.NewSymDense(2, []float64{c[0][0], c[0][1], c[0][1], c[1][1]})
}

func (g *Global) validate() error {
	p := mat.NewDense(2, 3, []float64{
		g.PCA[0][0], g.PCA[0][1], g.PCA[0][2],
		g.PCA[1][0], g.PCA[1][1], g.PCA[1][2],
	})
	var ppt mat.Dense
	ppt.Mul(p, p.T())
	if math.Abs(mat.Det(&ppt)) < awberr.DivMin {
		return fmt.Errorf("%w: PCA basis is rank deficient", ErrInvalidSet)
	}
	if g.KFactor <= 0 {
		return fmt.Errorf("%w: k-factor %g", ErrInvalidSet, g.KFactor)
	}
	if math.Hypot(g.CenterLine.NormalRg, g.CenterLine.NormalBg) < awberr.DivMin {
		return fmt.Errorf("%w: center line normal is zero", ErrInvalidSet)
	}
	if g.RgProjIndoorMin > g.RgProjMax || g.RgProjOutdoorMin > g.RgProjMax {
		return fmt.Errorf("%w: RgProj minimum above maximum", ErrInvalidSet)
	}
	named := []struct {
		name string
		err  error
	}{
		{"clip_upper", g.ClipUpper.Validate()},
		{"clip_lower", g.ClipLower.Validate()},
		{"fade_upper", g.FadeUpper.Validate()},
		{"fade_lower", g.FadeLower.Validate()},
		{"region.cb_min", g.Region.CbMin.validate(true)},
		{"region.cr_min", g.Region.CrMin.validate(true)},
		{"region.max_csum", g.Region.MaxCSum.validate(true)},
		{"region.min_c", g.Region.MinC.validate(false)},
		{"region.max_y", g.Region.MaxY.validate(false)},
		{"region.min_y_max_g", g.Region.MinYMaxG.validate(false)},
		{"region.ref_cb", g.Region.RefCb.validate(false)},
		{"region.ref_cr", g.Region.RefCr.validate(false)},
	}
	for _, n := range named {
		if n.err != nil {
			return fmt.Errorf("%s: %w", n.name, n.err)
		}
	}
	if g.RegionInit < 0 || g.RegionInit > 1 {
		return fmt.Errorf("%w: region_init %g outside [0,1]", ErrInvalidSet, g.RegionInit)
	}
	return g.IIR.validate()
}

func (p CurvePair) validate(required bool) error {
	if p.Empty() {
		if required {
			return fmt.Errorf("%w: missing curve pair", ErrInvalidSet)
		}
		return nil
	}
	if err := p.RegionMin.Validate(); err != nil {
		return err
	}
	return p.RegionMax.Validate()
}

func (c IIR) validate() error {
	if c.FilterSize < 1 {
		return fmt.Errorf("%w: filter size %d", ErrInvalidSet, c.FilterSize)
	}
	if c.DampingMin < 0 || c.DampingMax > 1 || c.DampingMin > c.DampingMax {
		return fmt.Errorf("%w: damping bounds [%g, %g]", ErrInvalidSet, c.DampingMin, c.DampingMax)
	}
	if c.DampingInit < c.DampingMin || c.DampingInit > c.DampingMax {
		return fmt.Errorf("%w: damping init %g outside bounds", ErrInvalidSet, c.DampingInit)
	}
	if c.DampingAddStep < 0 || c.DampingSubStep < 0 {
		return fmt.Errorf("%w: negative damping step", ErrInvalidSet)
	}
	return nil
}

// IndexOf returns the index of the named illuminant, or -1.
func (s *Set) IndexOf(name string) int {
	for i := range s.Illuminants {
		if s.Illuminants[i].Name == name {
			return i
		}
	}
	return -1
}

// Refs are index references into a Set for one output resolution. Each
// inner slice is sorted descending by saturation (CC) or vignetting (LSC).
type Refs struct {
	Resolution string
	CC         [][]int
	LSC        [][]int
}

// Resolve builds the index references for resolution. Illuminants without
// shading profiles for resolution get an empty LSC list.
func (s *Set) Resolve(resolution string) (*Refs, error) {
	ccByName := make(map[string]int, len(s.CC))
	for i, p := range s.CC {
		ccByName[p.Name] = i
	}
	lscByName := make(map[string]int, len(s.LSC))
	for i, p := range s.LSC {
		if p.Resolution == resolution {
			lscByName[p.Name] = i
		}
	}

	refs := &Refs{
		Resolution: resolution,
		CC:         make([][]int, len(s.Illuminants)),
		LSC:        make([][]int, len(s.Illuminants)),
	}
	for i, il := range s.Illuminants {
		cc := make([]int, 0, len(il.CCProfiles))
		for _, name := range il.CCProfiles {
			idx, ok := ccByName[name]
			if !ok {
				return nil, fmt.Errorf("%w: cc profile %q of %q", ErrUnknownProfile, name, il.Name)
			}
			cc = append(cc, idx)
		}
		sort.SliceStable(cc, func(a, b int) bool {
			return s.CC[cc[a]].Saturation > s.CC[cc[b]].Saturation
		})
		refs.CC[i] = cc

		names := il.LSCProfiles[resolution]
		lsc := make([]int, 0, len(names))
		for _, name := range names {
			idx, ok := lscByName[name]
			if !ok {
				return nil, fmt.Errorf("%w: lsc profile %q of %q at %s", ErrUnknownProfile, name, il.Name, resolution)
			}
			lsc = append(lsc, idx)
		}
		sort.SliceStable(lsc, func(a, b int) bool {
			return s.LSC[lsc[a]].Vignetting > s.LSC[lsc[b]].Vignetting
		})
		refs.LSC[i] = lsc
	}
	return refs, nil
}

// Anchor pairs an illuminant with its colour temperature.
type Anchor struct {
	Index       int
	Temperature float64
}

// nominalTemperature holds the CIE temperatures of the illuminants that may
// anchor a manual colour temperature fit.
var nominalTemperature = map[string]float64{
	"A":        2856,
	"D65":      6504,
	"F11_TL84": 4000,
	"TL84":     4000,
}

// TemperatureAnchors returns the illuminants usable for a colour temperature
// fit, at most one per nominal temperature, in ascending temperature order.
func (s *Set) TemperatureAnchors() []Anchor {
	byTemp := make(map[float64]Anchor)
	for i, il := range s.Illuminants {
		nominal, ok := nominalTemperature[strings.ToUpper(il.Name)]
		if !ok {
			continue
		}
		if _, dup := byTemp[nominal]; dup {
			continue
		}
		temp := nominal
		if il.Temperature > 0 {
			temp = il.Temperature
		}
		byTemp[nominal] = Anchor{Index: i, Temperature: temp}
	}
	out := make([]Anchor, 0, len(byTemp))
	for _, a := range byTemp {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Temperature < out[j].Temperature })
	return out
}
