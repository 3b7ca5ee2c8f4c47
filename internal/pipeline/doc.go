// Package pipeline drives an awb.Context from a frame source.
//
// The Runner owns the context: frames and control operations are
// serialized under one mutex, so the context itself needs no locking.
// It also applies the auto-lock policy, keeps a bounded snapshot history,
// tracks per-frame latency and optionally records every frame.
package pipeline
