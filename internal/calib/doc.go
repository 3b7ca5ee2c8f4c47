// Package calib holds the per-sensor calibration the white-balance pipeline
// reads: global tuning, the illuminant profile table, and the colour
// correction and lens-shading tables those profiles refer to.
//
// Calibration is owned by a Source. The pipeline borrows a *Set and refers to
// its entries by index; any reload produces a new Set and every index must be
// re-resolved against it. Nothing in this package parses vendor calibration
// files; Sets arrive as Go values, as JSON, or from the sqlite store in
// internal/db.
package calib
