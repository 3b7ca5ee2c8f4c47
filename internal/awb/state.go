package awb

// State is the lifecycle state of a Context.
type State string

const (
	StateInvalid     State = "invalid"
	StateInitialized State = "initialized"
	StateStopped     State = "stopped"
	StateRunning     State = "running"
	StateLocked      State = "locked"
)

func (s State) String() string { return string(s) }

// Mode selects how Start seeds the pipeline and whether frames are
// processed.
type Mode string

const (
	// ModeAuto seeds from an illuminant index and estimates every frame.
	ModeAuto Mode = "auto"
	// ModeManualIlluminant applies one illuminant's calibration and holds it.
	ModeManualIlluminant Mode = "manual_illuminant"
	// ModeManualColorTemperature applies gains fitted to a colour
	// temperature in Kelvin and holds them.
	ModeManualColorTemperature Mode = "manual_color_temperature"
)

func (m Mode) String() string { return string(m) }

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeAuto, ModeManualIlluminant, ModeManualColorTemperature:
		return true
	}
	return false
}
