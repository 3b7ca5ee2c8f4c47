// Package illum scores every calibrated illuminant against the measured
// colour, fuses the scores with the exposure prior, and classifies how
// confident the estimate is.
package illum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

var (
	// ErrMeansRange reports measured means whose sum is near zero.
	ErrMeansRange = fmt.Errorf("%w: measured means sum at floor", awberr.ErrOutOfRange)
	// ErrDegenerateWeights reports a likelihood sum near zero.
	ErrDegenerateWeights = fmt.Errorf("%w: degenerate likelihood sum", awberr.ErrCanceled)
	// ErrInvalidProfile reports a likelihood model that cannot be used.
	ErrInvalidProfile = fmt.Errorf("%w: invalid likelihood model", awberr.ErrInvalidParm)
)

// Region is the confidence tier of an estimate.
type Region string

const (
	// RegionA is a single dominant illuminant.
	RegionA Region = "A"
	// RegionB blends the dominant illuminant with the full weights.
	RegionB Region = "B"
	// RegionC uses the full normalised weights.
	RegionC Region = "C"
)

func (r Region) String() string { return string(r) }

// Prior carries the exposure prior into the estimator.
type Prior struct {
	Indoor  float64
	Outdoor float64
}

// Result is one frame's illumination estimate.
type Result struct {
	Normalized colormath.Vec3 `json:"normalized"`
	PCA        [2]float64     `json:"pca"`
	Likelihood []float64      `json:"likelihood"`
	Weight     []float64      `json:"weight"`
	Blend      []float64      `json:"blend"`
	Dominant   int            `json:"dominant"`
	Region     Region         `json:"region"`
	// Transition is the Region B blend factor in [0,1]: 1 at the upper
	// threshold, 0 at the lower one.
	Transition float64   `json:"transition"`
	GrayWorld  isp.Gains `json:"gray_world"`
}

type profile struct {
	mean    [2]float64
	inv     [2][2]float64
	factor  float64
	outdoor bool
	lower   float64
	upper   float64
}

// Estimator holds the PCA projection and precomputed likelihood models of
// a calibration set.
type Estimator struct {
	pca      [2][3]float64
	pcaMean  [3]float64
	profiles []profile
}

// New builds an Estimator from set. Covariances are inverted here so the
// per-frame path does no decomposition.
func New(set *calib.Set) (*Estimator, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: calibration set", awberr.ErrNullPointer)
	}
	e := &Estimator{
		pca:      set.Global.PCA,
		pcaMean:  set.Global.PCAMean,
		profiles: make([]profile, len(set.Illuminants)),
	}
	for i, il := range set.Illuminants {
		var chol mat.Cholesky
		if !chol.Factorize(il.Gaussian.CovarianceSym()) {
			return nil, fmt.Errorf("%w: %q covariance not positive definite", ErrInvalidProfile, il.Name)
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidProfile, il.Name, err)
		}
		e.profiles[i] = profile{
			mean:    il.Gaussian.Mean,
			inv:     [2][2]float64{{inv.At(0, 0), inv.At(0, 1)}, {inv.At(1, 0), inv.At(1, 1)}},
			factor:  il.Gaussian.Factor,
			outdoor: il.DoorType == calib.Outdoor,
			lower:   il.Thresholds.Lower,
			upper:   il.Thresholds.Upper,
		}
	}
	return e, nil
}

// Len returns the number of profiles.
func (e *Estimator) Len() int { return len(e.profiles) }

// Project maps normalised RGB into PCA space.
func (e *Estimator) Project(n colormath.Vec3) [2]float64 {
	var x [2]float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			x[r] += e.pca[r][c] * (n[c] - e.pcaMean[c])
		}
	}
	return x
}

// Likelihood returns factor·exp(-½ dᵀΣ⁻¹d) of profile i at x.
func (e *Estimator) Likelihood(i int, x [2]float64) float64 {
	p := e.profiles[i]
	d0 := x[0] - p.mean[0]
	d1 := x[1] - p.mean[1]
	q := d0*(p.inv[0][0]*d0+p.inv[0][1]*d1) + d1*(p.inv[1][0]*d0+p.inv[1][1]*d1)
	return p.factor * math.Exp(-0.5*q)
}

// Classify returns the region and transition factor for a dominant
// likelihood l against thresholds [lower, upper]. The upper bound is
// inclusive for Region A and the lower bound inclusive for Region C.
func Classify(l, lower, upper float64) (Region, float64) {
	switch {
	case l >= upper:
		return RegionA, 1
	case l <= lower:
		return RegionC, 0
	default:
		return RegionB, (l - lower) / (upper - lower)
	}
}

// Estimate runs the estimator on inverted RGB means.
func (e *Estimator) Estimate(rgb colormath.Vec3, prior Prior) (Result, error) {
	sum := rgb.Sum()
	if sum < awberr.DivMin {
		return Result{}, fmt.Errorf("%w: sum=%g", ErrMeansRange, sum)
	}
	n := rgb.Scale(1 / sum)
	x := e.Project(n)

	k := len(e.profiles)
	res := Result{
		Normalized: n,
		PCA:        x,
		Likelihood: make([]float64, k),
		Weight:     make([]float64, k),
		Blend:      make([]float64, k),
	}
	for i, p := range e.profiles {
		l := e.Likelihood(i, x)
		res.Likelihood[i] = l
		if p.outdoor {
			res.Weight[i] = l * prior.Outdoor
		} else {
			res.Weight[i] = l * prior.Indoor
		}
	}
	wsum := floats.Sum(res.Weight)
	if wsum < awberr.DivMin {
		return Result{}, fmt.Errorf("%w: sum=%g", ErrDegenerateWeights, wsum)
	}
	floats.Scale(1/wsum, res.Weight)

	dom := floats.MaxIdx(res.Weight)
	res.Dominant = dom
	p := e.profiles[dom]
	res.Region, res.Transition = Classify(res.Likelihood[dom], p.lower, p.upper)

	switch res.Region {
	case RegionA:
		res.Blend[dom] = 1
	case RegionB:
		t := res.Transition
		for i, w := range res.Weight {
			res.Blend[i] = (1 - t) * w
		}
		res.Blend[dom] += t
	case RegionC:
		copy(res.Blend, res.Weight)
	}

	gw, err := GrayWorld(n)
	if err != nil {
		return Result{}, err
	}
	res.GrayWorld = gw
	return res, nil
}

// GrayWorld returns the gains that make normalised means n neutral,
// normalised so the smallest gain is 1.
func GrayWorld(n colormath.Vec3) (isp.Gains, error) {
	sum := n.Sum()
	for _, c := range n {
		if c < awberr.DivMin {
			return isp.Gains{}, fmt.Errorf("%w: channel at floor in %v", ErrMeansRange, n)
		}
	}
	g := isp.Gains{Red: sum / n[0], GreenR: sum / n[1], GreenB: sum / n[1], Blue: sum / n[2]}
	return g.Normalize()
}
