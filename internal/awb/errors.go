package awb

import "github.com/banshee-data/awb/internal/awberr"

// Error taxonomy. Every stage error wraps one of these.
var (
	ErrWrongHandle    = awberr.ErrWrongHandle
	ErrInvalidParm    = awberr.ErrInvalidParm
	ErrNullPointer    = awberr.ErrNullPointer
	ErrWrongState     = awberr.ErrWrongState
	ErrOutOfRange     = awberr.ErrOutOfRange
	ErrDivisionByZero = awberr.ErrDivisionByZero
	ErrCanceled       = awberr.ErrCanceled
	ErrBusy           = awberr.ErrBusy
	ErrOutOfMemory    = awberr.ErrOutOfMemory
	ErrNotSupported   = awberr.ErrNotSupported
)
