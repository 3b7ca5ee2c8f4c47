package monitor

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/awb/internal/isp"
)

// Palette returns n evenly spaced hues.
func Palette(n int) []colorful.Color {
	if n <= 0 {
		return nil
	}
	out := make([]colorful.Color, n)
	for i := range out {
		out[i] = colorful.Hsl(360*float64(i)/float64(n), 0.7, 0.5)
	}
	return out
}

func hexPalette(n int) []string {
	p := Palette(n)
	out := make([]string, len(p))
	for i, c := range p {
		out[i] = c.Hex()
	}
	return out
}

func plotPalette(n int) []color.Color {
	p := Palette(n)
	out := make([]color.Color, len(p))
	for i, c := range p {
		out[i] = c
	}
	return out
}

// GainTint returns the colour a neutral grey takes on under g, normalised
// so the strongest channel is full scale. Balanced gains give white.
func GainTint(g isp.Gains) colorful.Color {
	r, gr, b := g.Red, g.Green(), g.Blue
	m := math.Max(r, math.Max(gr, b))
	if m <= 0 {
		return colorful.Color{}
	}
	return colorful.LinearRgb(r/m, gr/m, b/m).Clamped()
}
