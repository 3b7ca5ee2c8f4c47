// Package colormath provides the small fixed-size linear algebra used by the
// white-balance stages: 3-vectors, 3×3 matrices with closed-form inversion,
// and the fixed BT.601 YCbCr/RGB conversion used by the measurement unit.
//
// Everything here is value-typed and allocation free so it can run inside the
// per-frame path. Bridges to gonum's mat package exist for validation and for
// callers that need general-purpose decompositions.
package colormath
