// Package awb is the auto-white-balance controller of the ISP stack.
//
// A Context owns one sensor chain's pipeline state and runs the stages in
// order for every frame:
//
//	expprior  exposure → indoor/outdoor prior and damping coefficient
//	measure   undo the current hardware correction on the measured means
//	illum     illuminant likelihoods, dominant profile and region
//	wbgain    white-balance gains, damped and clipped
//	ccm       colour-correction matrix and offset
//	lsc       lens-shading table (Q16 fixed point)
//	wpregion  measurement-window adaptation
//
// Stages hold only immutable configuration. All mutable per-frame state
// lives in the Context and is replaced as a whole once every stage and
// every hardware write of a frame has succeeded, so a failing frame leaves
// the applied gains, matrices and tables untouched.
//
// A Context is not safe for concurrent use; the owning pipeline runner
// serialises access.
package awb
