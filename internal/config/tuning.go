package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/awb.defaults.json"

// TuningConfig is the root AWB tuning configuration. Every field is
// optional; the Get* accessors supply the default for anything omitted, so
// partial files are safe.
type TuningConfig struct {
	// Measurement unit
	MeasurementMode *string  `json:"measurement_mode,omitempty"` // "ycbcr" or "rgb"
	Resolution      *string  `json:"resolution,omitempty"`       // calibration resolution name, e.g. "1920x1080"
	Framerate       *float64 `json:"framerate,omitempty"`
	WindowHOffset   *int     `json:"window_h_offset,omitempty"`
	WindowVOffset   *int     `json:"window_v_offset,omitempty"`
	WindowWidth     *int     `json:"window_width,omitempty"`
	WindowHeight    *int     `json:"window_height,omitempty"`

	// Working range and convergence, as fractions of the window area
	MinWhiteFraction *float64 `json:"min_white_fraction,omitempty"`
	MaxWhiteFraction *float64 `json:"max_white_fraction,omitempty"`
	StableDeviation  *float64 `json:"stable_deviation,omitempty"`
	RestartDeviation *float64 `json:"restart_deviation,omitempty"`

	// Pipeline switches
	DampingEnabled          *bool    `json:"damping_enabled,omitempty"`
	OffsetCorrectionEnabled *bool    `json:"offset_correction_enabled,omitempty"`
	BLSFactor               *float64 `json:"bls_factor,omitempty"`
	HistogramThreshold      *float64 `json:"histogram_threshold,omitempty"`
	FilterSize              *int     `json:"filter_size,omitempty"` // 0 keeps the calibrated size

	// Runner
	FrameInterval  *string `json:"frame_interval,omitempty"` // duration string like "33ms"
	AutoLockFrames *int    `json:"auto_lock_frames,omitempty"`
	HistorySize    *int    `json:"history_size,omitempty"`
	LatencyBudget  *string `json:"latency_budget,omitempty"` // duration string like "5ms"
	RecordFrames   *bool   `json:"record_frames,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		MeasurementMode:         ptrString(c.GetMeasurementMode()),
		Resolution:              ptrString(c.GetResolution()),
		Framerate:               ptrFloat64(c.GetFramerate()),
		WindowHOffset:           ptrInt(c.GetWindowHOffset()),
		WindowVOffset:           ptrInt(c.GetWindowVOffset()),
		WindowWidth:             ptrInt(c.GetWindowWidth()),
		WindowHeight:            ptrInt(c.GetWindowHeight()),
		MinWhiteFraction:        ptrFloat64(c.GetMinWhiteFraction()),
		MaxWhiteFraction:        ptrFloat64(c.GetMaxWhiteFraction()),
		StableDeviation:         ptrFloat64(c.GetStableDeviation()),
		RestartDeviation:        ptrFloat64(c.GetRestartDeviation()),
		DampingEnabled:          ptrBool(c.GetDampingEnabled()),
		OffsetCorrectionEnabled: ptrBool(c.GetOffsetCorrectionEnabled()),
		BLSFactor:               ptrFloat64(c.GetBLSFactor()),
		HistogramThreshold:      ptrFloat64(c.GetHistogramThreshold()),
		FilterSize:              ptrInt(c.GetFilterSize()),
		FrameInterval:           ptrString(c.GetFrameInterval().String()),
		AutoLockFrames:          ptrInt(c.GetAutoLockFrames()),
		HistorySize:             ptrInt(c.GetHistorySize()),
		LatencyBudget:           ptrString(c.GetLatencyBudget().String()),
		RecordFrames:            ptrBool(c.GetRecordFrames()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/awbd/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/awb/ccm/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func fraction(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func duration(name string, v *string) error {
	if v != nil && *v != "" {
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MeasurementMode != nil && *c.MeasurementMode != "ycbcr" && *c.MeasurementMode != "rgb" {
		return fmt.Errorf("measurement_mode must be \"ycbcr\" or \"rgb\", got %q", *c.MeasurementMode)
	}
	if c.Resolution != nil && *c.Resolution == "" {
		return fmt.Errorf("resolution must not be empty")
	}
	if c.Framerate != nil && *c.Framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %f", *c.Framerate)
	}
	for _, w := range []struct {
		name string
		v    *int
	}{
		{"window_h_offset", c.WindowHOffset},
		{"window_v_offset", c.WindowVOffset},
		{"window_width", c.WindowWidth},
		{"window_height", c.WindowHeight},
	} {
		if w.v != nil && (*w.v < 0 || *w.v > 0xffff) {
			return fmt.Errorf("%s must be in [0, 65535], got %d", w.name, *w.v)
		}
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"min_white_fraction", c.MinWhiteFraction},
		{"max_white_fraction", c.MaxWhiteFraction},
		{"stable_deviation", c.StableDeviation},
		{"restart_deviation", c.RestartDeviation},
	} {
		if err := fraction(f.name, f.v); err != nil {
			return err
		}
	}
	if c.GetMinWhiteFraction() > c.GetMaxWhiteFraction() {
		return fmt.Errorf("min_white_fraction %f exceeds max_white_fraction %f", c.GetMinWhiteFraction(), c.GetMaxWhiteFraction())
	}
	if c.GetStableDeviation() > c.GetRestartDeviation() {
		return fmt.Errorf("stable_deviation %f exceeds restart_deviation %f", c.GetStableDeviation(), c.GetRestartDeviation())
	}
	if c.BLSFactor != nil && *c.BLSFactor <= 0 {
		return fmt.Errorf("bls_factor must be positive, got %f", *c.BLSFactor)
	}
	if c.HistogramThreshold != nil && (*c.HistogramThreshold < 0 || *c.HistogramThreshold >= 1) {
		return fmt.Errorf("histogram_threshold must be in [0, 1), got %f", *c.HistogramThreshold)
	}
	if c.FilterSize != nil && *c.FilterSize < 0 {
		return fmt.Errorf("filter_size must be non-negative, got %d", *c.FilterSize)
	}
	if err := duration("frame_interval", c.FrameInterval); err != nil {
		return err
	}
	if err := duration("latency_budget", c.LatencyBudget); err != nil {
		return err
	}
	if c.AutoLockFrames != nil && *c.AutoLockFrames < 0 {
		return fmt.Errorf("auto_lock_frames must be non-negative, got %d", *c.AutoLockFrames)
	}
	if c.HistorySize != nil && *c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", *c.HistorySize)
	}
	return nil
}

// GetMeasurementMode returns the measurement_mode value or the default.
func (c *TuningConfig) GetMeasurementMode() string {
	if c.MeasurementMode == nil {
		return "ycbcr" // default
	}
	return *c.MeasurementMode
}

// GetResolution returns the resolution value or the default.
func (c *TuningConfig) GetResolution() string {
	if c.Resolution == nil {
		return "1920x1080" // default
	}
	return *c.Resolution
}

// GetFramerate returns the framerate value or the default.
func (c *TuningConfig) GetFramerate() float64 {
	if c.Framerate == nil {
		return 30 // default
	}
	return *c.Framerate
}

// GetWindowHOffset returns the window_h_offset value or the default.
func (c *TuningConfig) GetWindowHOffset() int {
	if c.WindowHOffset == nil {
		return 0 // default
	}
	return *c.WindowHOffset
}

// GetWindowVOffset returns the window_v_offset value or the default.
func (c *TuningConfig) GetWindowVOffset() int {
	if c.WindowVOffset == nil {
		return 0 // default
	}
	return *c.WindowVOffset
}

// GetWindowWidth returns the window_width value or the default.
func (c *TuningConfig) GetWindowWidth() int {
	if c.WindowWidth == nil {
		return 1920 // default
	}
	return *c.WindowWidth
}

// GetWindowHeight returns the window_height value or the default.
func (c *TuningConfig) GetWindowHeight() int {
	if c.WindowHeight == nil {
		return 1080 // default
	}
	return *c.WindowHeight
}

// GetMinWhiteFraction returns the min_white_fraction value or the default.
func (c *TuningConfig) GetMinWhiteFraction() float64 {
	if c.MinWhiteFraction == nil {
		return 0.001 // default
	}
	return *c.MinWhiteFraction
}

// GetMaxWhiteFraction returns the max_white_fraction value or the default.
func (c *TuningConfig) GetMaxWhiteFraction() float64 {
	if c.MaxWhiteFraction == nil {
		return 0.05 // default
	}
	return *c.MaxWhiteFraction
}

// GetStableDeviation returns the stable_deviation value or the default.
func (c *TuningConfig) GetStableDeviation() float64 {
	if c.StableDeviation == nil {
		return 0.0005 // default
	}
	return *c.StableDeviation
}

// GetRestartDeviation returns the restart_deviation value or the default.
func (c *TuningConfig) GetRestartDeviation() float64 {
	if c.RestartDeviation == nil {
		return 0.005 // default
	}
	return *c.RestartDeviation
}

// GetDampingEnabled returns the damping_enabled value or the default.
func (c *TuningConfig) GetDampingEnabled() bool {
	if c.DampingEnabled == nil {
		return true // default
	}
	return *c.DampingEnabled
}

// GetOffsetCorrectionEnabled returns the offset_correction_enabled value or the default.
func (c *TuningConfig) GetOffsetCorrectionEnabled() bool {
	if c.OffsetCorrectionEnabled == nil {
		return true // default
	}
	return *c.OffsetCorrectionEnabled
}

// GetBLSFactor returns the bls_factor value or the default.
func (c *TuningConfig) GetBLSFactor() float64 {
	if c.BLSFactor == nil {
		return 1.0 // default
	}
	return *c.BLSFactor
}

// GetHistogramThreshold returns the histogram_threshold value or the default.
func (c *TuningConfig) GetHistogramThreshold() float64 {
	if c.HistogramThreshold == nil {
		return 0.2 // default
	}
	return *c.HistogramThreshold
}

// GetFilterSize returns the filter_size value or the default.
func (c *TuningConfig) GetFilterSize() int {
	if c.FilterSize == nil {
		return 0 // default: calibrated size
	}
	return *c.FilterSize
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetAutoLockFrames returns the auto_lock_frames value or the default.
func (c *TuningConfig) GetAutoLockFrames() int {
	if c.AutoLockFrames == nil {
		return 0 // default: never lock automatically
	}
	return *c.AutoLockFrames
}

// GetHistorySize returns the history_size value or the default.
func (c *TuningConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 300 // default
	}
	return *c.HistorySize
}

// GetLatencyBudget parses and returns the LatencyBudget as a time.Duration.
func (c *TuningConfig) GetLatencyBudget() time.Duration {
	if c.LatencyBudget == nil || *c.LatencyBudget == "" {
		return 5 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.LatencyBudget)
	if err != nil {
		return 5 * time.Millisecond // default on parse error
	}
	return d
}

// GetRecordFrames returns the record_frames value or the default.
func (c *TuningConfig) GetRecordFrames() bool {
	if c.RecordFrames == nil {
		return false // default
	}
	return *c.RecordFrames
}
