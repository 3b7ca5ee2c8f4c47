// Package isp models the image-signal-processor registers the white-balance
// pipeline reads and writes: gains, the cross-talk (colour correction)
// matrix and offset, the lens-shading grid and the measurement window.
//
// Driver is the boundary to real hardware. Simulator implements Driver in
// memory and synthesises measurements from a scene description so the
// pipeline can be exercised without a sensor.
package isp
