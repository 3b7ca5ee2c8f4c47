package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Source provides calibration to the pipeline. Load is called on Configure,
// on Reset and when ReConfigure changes the resolution or framerate.
type Source interface {
	Load(resolution string) (*Set, error)
}

// Memory is a Source backed by a single in-memory Set.
type Memory struct {
	mu  sync.RWMutex
	set *Set
}

// NewMemory returns a Source serving set.
func NewMemory(set *Set) *Memory {
	return &Memory{set: set}
}

// Replace swaps the served set. Pipelines see it on their next reload.
func (m *Memory) Replace(set *Set) {
	m.mu.Lock()
	m.set = set
	m.mu.Unlock()
}

// Load returns the served set after validating it. The resolution is
// checked when the set declares its resolutions.
func (m *Memory) Load(resolution string) (*Set, error) {
	m.mu.RLock()
	set := m.set
	m.mu.RUnlock()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if !set.SupportsResolution(resolution) {
		return nil, fmt.Errorf("%w: resolution %q", ErrUnknownProfile, resolution)
	}
	return set, nil
}

// SupportsResolution reports whether the set was calibrated for resolution.
// A set that declares no resolutions accepts any.
func (s *Set) SupportsResolution(resolution string) bool {
	if len(s.Global.ResolutionNames) == 0 {
		return true
	}
	for _, r := range s.Global.ResolutionNames {
		if r == resolution {
			return true
		}
	}
	return false
}

// maxFileSize bounds calibration JSON files.
const maxFileSize = 16 * 1024 * 1024

// LoadJSONFile reads and validates a Set stored as JSON.
func LoadJSONFile(path string) (*Set, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calibration file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration %s: %w", cleanPath, err)
	}
	return &set, nil
}

// WriteJSONFile stores set as indented JSON.
func WriteJSONFile(path string, set *Set) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
