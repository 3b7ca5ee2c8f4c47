// Package awberr defines the error taxonomy shared by every stage of the
// white-balance pipeline.
//
// Stage packages wrap these sentinels with fmt.Errorf("...: %w", ...) so a
// caller can classify any pipeline failure with errors.Is regardless of
// which stage produced it.
package awberr

import "errors"

var (
	// ErrWrongHandle reports a nil, released or uninitialised context.
	ErrWrongHandle = errors.New("wrong handle")
	// ErrInvalidParm reports a bad caller-supplied argument.
	ErrInvalidParm = errors.New("invalid parameter")
	// ErrNullPointer reports a required argument that was not supplied.
	ErrNullPointer = errors.New("null pointer")
	// ErrWrongState reports an API call the state machine forbids.
	ErrWrongState = errors.New("wrong state")
	// ErrOutOfRange reports a violated numeric precondition.
	ErrOutOfRange = errors.New("out of range")
	// ErrDivisionByZero reports a denominator checked and found to be zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrCanceled reports that the pipeline declined to run this frame.
	ErrCanceled = errors.New("canceled")
	// ErrBusy reports a request refused while running or locked.
	ErrBusy = errors.New("busy")
	// ErrOutOfMemory reports an allocation that could not be satisfied.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNotSupported reports a feature the loaded calibration cannot serve.
	ErrNotSupported = errors.New("not supported")
)

// DivMin is the numeric floor below which a denominator, determinant or
// exposure value is treated as zero.
const DivMin = 1e-8
