package awb

import (
	"fmt"

	"github.com/banshee-data/awb/internal/config"
	"github.com/banshee-data/awb/internal/isp"
)

// Config is the static configuration of a Context.
type Config struct {
	Mode       isp.MeasMode // measurement unit output format
	Window     isp.Window   // measurement window
	Resolution string       // calibration resolution name
	Framerate  float64

	// Working range and convergence thresholds, as fractions of the window
	// area.
	MinWhiteFraction float64
	MaxWhiteFraction float64
	StableDeviation  float64
	RestartDeviation float64

	DampingEnabled          bool
	OffsetCorrectionEnabled bool
	BLSFactor               float64 // black-level compensation applied to written gains
	HistogramThreshold      float64 // dark-bin fraction where the CC offset starts to fade
	FilterSize              int     // exposure prior ring length; 0 keeps the calibrated size
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file (config/awb.defaults.json). Panics if the file cannot be found,
// intended for tests and binaries that have already validated config
// availability.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		Mode: isp.MeasMode(cfg.GetMeasurementMode()),
		Window: isp.Window{
			HOffset: uint16(cfg.GetWindowHOffset()),
			VOffset: uint16(cfg.GetWindowVOffset()),
			Width:   uint16(cfg.GetWindowWidth()),
			Height:  uint16(cfg.GetWindowHeight()),
		},
		Resolution:              cfg.GetResolution(),
		Framerate:               cfg.GetFramerate(),
		MinWhiteFraction:        cfg.GetMinWhiteFraction(),
		MaxWhiteFraction:        cfg.GetMaxWhiteFraction(),
		StableDeviation:         cfg.GetStableDeviation(),
		RestartDeviation:        cfg.GetRestartDeviation(),
		DampingEnabled:          cfg.GetDampingEnabled(),
		OffsetCorrectionEnabled: cfg.GetOffsetCorrectionEnabled(),
		BLSFactor:               cfg.GetBLSFactor(),
		HistogramThreshold:      cfg.GetHistogramThreshold(),
		FilterSize:              cfg.GetFilterSize(),
	}
}

// Validate checks the configuration. Malformed values report
// ErrInvalidParm; inconsistent thresholds report ErrOutOfRange.
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("%w: measurement mode %q", ErrInvalidParm, c.Mode)
	}
	if c.Window.Area() == 0 {
		return fmt.Errorf("%w: empty measurement window", ErrInvalidParm)
	}
	if c.Resolution == "" {
		return fmt.Errorf("%w: resolution not set", ErrInvalidParm)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("%w: framerate %g", ErrInvalidParm, c.Framerate)
	}
	if c.BLSFactor <= 0 {
		return fmt.Errorf("%w: bls factor %g", ErrInvalidParm, c.BLSFactor)
	}
	if c.FilterSize < 0 {
		return fmt.Errorf("%w: filter size %d", ErrInvalidParm, c.FilterSize)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"min white fraction", c.MinWhiteFraction},
		{"max white fraction", c.MaxWhiteFraction},
		{"stable deviation", c.StableDeviation},
		{"restart deviation", c.RestartDeviation},
	} {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s %g outside [0,1]", ErrOutOfRange, f.name, f.v)
		}
	}
	if c.MinWhiteFraction > c.MaxWhiteFraction {
		return fmt.Errorf("%w: min white fraction %g above max %g", ErrOutOfRange, c.MinWhiteFraction, c.MaxWhiteFraction)
	}
	if c.StableDeviation > c.RestartDeviation {
		return fmt.Errorf("%w: stable deviation %g above restart deviation %g", ErrOutOfRange, c.StableDeviation, c.RestartDeviation)
	}
	if c.HistogramThreshold < 0 || c.HistogramThreshold >= 1 {
		return fmt.Errorf("%w: histogram threshold %g", ErrOutOfRange, c.HistogramThreshold)
	}
	return nil
}

func (c *Config) count(fraction float64) uint32 {
	return uint32(fraction * float64(c.Window.Area()))
}

// MinWhite returns the lower end of the white-pixel working range.
func (c *Config) MinWhite() uint32 { return c.count(c.MinWhiteFraction) }

// MaxWhite returns the upper end of the white-pixel working range.
func (c *Config) MaxWhite() uint32 { return c.count(c.MaxWhiteFraction) }

// StableThreshold is the white-pixel delta at or below which the
// controller counts as settled.
func (c *Config) StableThreshold() uint32 { return c.count(c.StableDeviation) }

// RestartThreshold is the white-pixel delta above which a settled
// controller counts as moving again.
func (c *Config) RestartThreshold() uint32 { return c.count(c.RestartDeviation) }

// WithMeasurementMode sets the measurement unit format.
func (c *Config) WithMeasurementMode(m isp.MeasMode) *Config {
	c.Mode = m
	return c
}

// WithWindow sets the measurement window.
func (c *Config) WithWindow(w isp.Window) *Config {
	c.Window = w
	return c
}

// WithResolution sets the calibration resolution name.
func (c *Config) WithResolution(r string) *Config {
	c.Resolution = r
	return c
}

// WithFramerate sets the sensor framerate.
func (c *Config) WithFramerate(f float64) *Config {
	c.Framerate = f
	return c
}

// WithWhiteRange sets the working range as window-area fractions.
func (c *Config) WithWhiteRange(min, max float64) *Config {
	c.MinWhiteFraction = min
	c.MaxWhiteFraction = max
	return c
}

// WithDeviations sets the stable and restart deviation fractions.
func (c *Config) WithDeviations(stable, restart float64) *Config {
	c.StableDeviation = stable
	c.RestartDeviation = restart
	return c
}

// WithDamping enables or disables temporal damping.
func (c *Config) WithDamping(enabled bool) *Config {
	c.DampingEnabled = enabled
	return c
}

// WithOffsetCorrection enables or disables cross-talk offset removal
// during measurement inversion.
func (c *Config) WithOffsetCorrection(enabled bool) *Config {
	c.OffsetCorrectionEnabled = enabled
	return c
}

// WithBLSFactor sets the black-level compensation factor.
func (c *Config) WithBLSFactor(f float64) *Config {
	c.BLSFactor = f
	return c
}

// WithFilterSize overrides the calibrated exposure prior ring length.
func (c *Config) WithFilterSize(n int) *Config {
	c.FilterSize = n
	return c
}
