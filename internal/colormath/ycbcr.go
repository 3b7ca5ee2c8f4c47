package colormath

// BT.601 limited-range coefficients as used by the measurement unit.
const (
	lumaScale = 1.164
	lumaBase  = 16.0
	chromaMid = 128.0
)

// ycbcrToRGB maps (Y-16, Cb-128, Cr-128) to RGB.
var ycbcrToRGB = Mat3{
	{lumaScale, 0, 1.596},
	{lumaScale, -0.392, -0.813},
	{lumaScale, 2.017, 0},
}

// rgbToYCbCr maps RGB to (Y-16, Cb-128, Cr-128).
var rgbToYCbCr = Mat3{
	{0.257, 0.504, 0.098},
	{-0.148, -0.291, 0.439},
	{0.439, -0.368, -0.071},
}

// YCbCrToRGB converts an 8-bit offset YCbCr triple to RGB.
func YCbCrToRGB(y, cb, cr float64) Vec3 {
	return ycbcrToRGB.MulVec(Vec3{y - lumaBase, cb - chromaMid, cr - chromaMid})
}

// RGBToYCbCr converts RGB to an 8-bit offset YCbCr triple (Y, Cb, Cr).
func RGBToYCbCr(rgb Vec3) Vec3 {
	v := rgbToYCbCr.MulVec(rgb)
	return Vec3{v[0] + lumaBase, v[1] + chromaMid, v[2] + chromaMid}
}

// ChromaToRGB returns the RGB contribution of a signed chroma pair
// (Cb-128, Cr-128) with luma held at black.
func ChromaToRGB(cb, cr float64) Vec3 {
	return ycbcrToRGB.MulVec(Vec3{0, cb, cr})
}

// MaxLumaBeforeClip returns the largest Y for which the signed chroma pair
// (cb, cr) keeps every RGB channel at or below limit.
func MaxLumaBeforeClip(cb, cr, limit float64) float64 {
	c := ChromaToRGB(cb, cr)
	maxY := 255.0
	for _, ch := range c {
		y := lumaBase + (limit-ch)/lumaScale
		if y < maxY {
			maxY = y
		}
	}
	if maxY < 0 {
		return 0
	}
	return maxY
}
