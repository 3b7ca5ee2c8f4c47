package lsc

import (
	"math"

	"github.com/banshee-data/awb/internal/isp"
)

// Q16 is an unsigned 16.16 fixed-point blend factor in [0, One].
type Q16 uint32

// One is 1.0 in Q16.
const One Q16 = 1 << 16

const half = uint64(One >> 1)

// ToQ16 rounds f to the nearest Q16, clamping to [0, One].
func ToQ16(f float64) Q16 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= 1 {
		return One
	}
	return Q16(math.Round(f * float64(One)))
}

// Float returns q as a float64.
func (q Q16) Float() float64 { return float64(q) / float64(One) }

// mix returns round(f·a + (1-f)·b) in hardware units.
func mix(a, b uint16, f Q16) uint16 {
	v := (uint64(f)*uint64(a) + uint64(One-f)*uint64(b) + half) >> 16
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// Blend mixes two tables coefficient-wise with factor f on a. Sector
// geometry is taken from a.
func Blend(a, b *isp.LscTable, f Q16) isp.LscTable {
	out := isp.LscTable{XSector: a.XSector, YSector: a.YSector}
	ac, bc, oc := a.Channels(), b.Channels(), out.Channels()
	for ch := range oc {
		for i := range oc[ch] {
			oc[ch][i] = mix(ac[ch][i], bc[ch][i], f)
		}
	}
	return out
}
