package isp

import "context"

// Driver reads and writes the ISP registers the pipeline owns.
type Driver interface {
	Gains() (Gains, error)
	CrossTalk() (CrossTalk, error)
	Histogram() (Histogram, error)

	SetGains(Gains) error
	SetCrossTalk(CrossTalk) error
	SetLensShading(LscTable) error
	SetMeasureConfig(MeasureConfig) error
}

// FrameSource yields frames for the pipeline runner. NextFrame blocks until a
// frame is available or ctx is done.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
}
