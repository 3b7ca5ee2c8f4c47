// Package measure undoes the colour correction and white balance the ISP
// applied before measuring, recovering the scene's illuminant-dependent RGB
// means.
package measure

import (
	"fmt"

	"github.com/banshee-data/awb/internal/awberr"
	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/isp"
)

// ErrGainRange reports a current hardware gain at or below the floor.
var ErrGainRange = fmt.Errorf("%w: hardware gain at floor", awberr.ErrOutOfRange)

// Input is what the inversion needs from the current frame and hardware.
type Input struct {
	Mode      isp.MeasMode
	Means     colormath.Vec3
	CrossTalk isp.CrossTalk
	Gains     isp.Gains
	// SubtractOffset removes the cross-talk offset before inversion.
	SubtractOffset bool
}

// Invert returns the RGB means with the hardware's current correction and
// white balance removed.
func Invert(in Input) (colormath.Vec3, error) {
	var rgb colormath.Vec3
	switch in.Mode {
	case isp.MeasYCbCr:
		rgb = colormath.YCbCrToRGB(in.Means[0], in.Means[1], in.Means[2])
	case isp.MeasRGB:
		rgb = in.Means
	default:
		return colormath.Vec3{}, fmt.Errorf("%w: measurement mode %q", awberr.ErrInvalidParm, in.Mode)
	}

	if in.SubtractOffset {
		rgb = rgb.Sub(in.CrossTalk.Offset)
	}

	inv, err := in.CrossTalk.Matrix.Invert()
	if err != nil {
		return colormath.Vec3{}, fmt.Errorf("cross-talk inverse: %w", err)
	}
	rgb = inv.MulVec(rgb)

	green := in.Gains.Green()
	for _, g := range []float64{in.Gains.Red, green, in.Gains.Blue} {
		if g <= awberr.DivMin {
			return colormath.Vec3{}, fmt.Errorf("%w: gains %+v", ErrGainRange, in.Gains)
		}
	}
	return colormath.Vec3{rgb[0] / in.Gains.Red, rgb[1] / green, rgb[2] / in.Gains.Blue}, nil
}
