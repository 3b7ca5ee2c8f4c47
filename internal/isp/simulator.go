package isp

import (
	"context"
	"math"
	"sync"

	"github.com/banshee-data/awb/internal/colormath"
	"github.com/banshee-data/awb/internal/timeutil"
)

// Scene describes what the simulated sensor is looking at.
type Scene struct {
	// Illuminant is the raw sensor response to a white patch, 8-bit scale.
	Illuminant      colormath.Vec3 `json:"illuminant"`
	SensorGain      float64        `json:"sensor_gain"`
	IntegrationTime float64        `json:"integration_time"`
	// WhitePixels is the near-white count once the image is neutral.
	WhitePixels uint32    `json:"white_pixels"`
	Histogram   Histogram `json:"histogram,omitempty"`
}

// chromaFalloff is the summed chroma distance at which the simulated
// white-pixel count reaches its floor.
const chromaFalloff = 64.0

// Simulator is an in-memory register model. It implements Driver and
// FrameSource.
type Simulator struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	scene  Scene
	gains  Gains
	ct     CrossTalk
	lsc    LscTable
	meas   MeasureConfig
	seq    uint64
	writes int
}

// NewSimulator returns a simulator with unity gains, an identity correction
// and YCbCr measurement.
func NewSimulator(scene Scene, clock timeutil.Clock) *Simulator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulator{
		clock: clock,
		scene: scene,
		gains: Unity(),
		ct:    IdentityCrossTalk(),
		meas:  MeasureConfig{Mode: MeasYCbCr, RefCb: 128, RefCr: 128},
	}
}

// SetScene replaces the simulated scene.
func (s *Simulator) SetScene(scene Scene) {
	s.mu.Lock()
	s.scene = scene
	s.mu.Unlock()
}

// Measure computes the measurement unit output for the current scene and
// register state.
func (s *Simulator) Measure() Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measureLocked()
}

func (s *Simulator) measureLocked() Measurement {
	raw := s.scene.Illuminant
	balanced := colormath.Vec3{raw[0] * s.gains.Red, raw[1] * s.gains.Green(), raw[2] * s.gains.Blue}
	rgb := s.ct.Matrix.MulVec(balanced).Add(s.ct.Offset)
	for i := range rgb {
		rgb[i] = math.Max(0, math.Min(255, rgb[i]))
	}

	ycc := colormath.RGBToYCbCr(rgb)
	dist := math.Abs(ycc[1]-128) + math.Abs(ycc[2]-128)
	frac := math.Max(0.05, 1-dist/chromaFalloff)
	count := uint32(math.Round(float64(s.scene.WhitePixels) * frac))

	if s.meas.Mode == MeasRGB {
		return Measurement{Means: rgb, NoWhitePixel: count}
	}
	return Measurement{Means: ycc, NoWhitePixel: count}
}

// NextFrame returns a frame for the current scene. It never blocks.
func (s *Simulator) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	hist := append(Histogram(nil), s.scene.Histogram...)
	return Frame{
		Seq:             s.seq,
		Timestamp:       s.clock.Now(),
		Measurement:     s.measureLocked(),
		SensorGain:      s.scene.SensorGain,
		IntegrationTime: s.scene.IntegrationTime,
		Histogram:       hist,
	}, nil
}

// Writes returns the number of register writes performed so far.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// LensShading returns the last shading table written.
func (s *Simulator) LensShading() LscTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lsc
}

// MeasureConfig returns the last measurement configuration written.
func (s *Simulator) MeasureConfig() MeasureConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meas
}

func (s *Simulator) Gains() (Gains, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gains, nil
}

func (s *Simulator) CrossTalk() (CrossTalk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ct, nil
}

func (s *Simulator) Histogram() (Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Histogram(nil), s.scene.Histogram...), nil
}

func (s *Simulator) SetGains(g Gains) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = g
	s.writes++
	return nil
}

func (s *Simulator) SetCrossTalk(ct CrossTalk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ct = ct
	s.writes++
	return nil
}

func (s *Simulator) SetLensShading(t LscTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lsc = t
	s.writes++
	return nil
}

func (s *Simulator) SetMeasureConfig(m MeasureConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meas = m
	s.writes++
	return nil
}

// whiteLevel is the summed raw response of a white patch in a simulated
// scene.
const whiteLevel = 330.0

// SceneForGains returns a scene lit so that gains g render a white patch
// neutral: the raw response is proportional to the reciprocal gains.
func SceneForGains(g Gains, sensorGain, integrationTime float64, whitePixels uint32) Scene {
	v := colormath.Vec3{1 / g.Red, 1 / g.Green(), 1 / g.Blue}
	return Scene{
		Illuminant:      v.Scale(whiteLevel / v.Sum()),
		SensorGain:      sensorGain,
		IntegrationTime: integrationTime,
		WhitePixels:     whitePixels,
		Histogram:       Histogram{100, 400, 800, 1200, 900, 400, 150, 50},
	}
}
