package scan

import (
	"fmt"
	"strings"
)

// Mode selects what the pipeline looks for and how it turns a detection into an image.
type Mode string

// Capture modes.
const (
	ModeFace   Mode = "FACE"
	ModeIDCard Mode = "ID_CARD"
)

// ParseMode accepts a mode name in any case, with '-' or '_' separators.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "FACE":
		return ModeFace, nil
	case "ID_CARD", "IDCARD", "ID", "CARD", "DOCUMENT":
		return ModeIDCard, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Label returns the human name of the mode's subject.
func (m Mode) Label() string {
	if m == ModeIDCard {
		return "ID Card"
	}
	return "Face"
}

// Status is the single authoritative state of the pipeline.
type Status int

// Pipeline states.
const (
	StatusInitializing Status = iota
	StatusSearching
	StatusLocking
	StatusCaptured
	StatusError
)

var statusNames = map[Status]string{
	StatusInitializing: "INITIALIZING",
	StatusSearching:    "SEARCHING",
	StatusLocking:      "LOCKING",
	StatusCaptured:     "CAPTURED",
	StatusError:        "ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Describe returns the operator-facing status line for mode.
func (s Status) Describe(mode Mode) string {
	switch s {
	case StatusInitializing:
		return "Loading models..."
	case StatusSearching:
		return "Finding " + mode.Label() + "..."
	case StatusLocking:
		return "Hold steady..."
	case StatusCaptured:
		return "Captured!"
	case StatusError:
		return "Camera error / not found"
	}
	return ""
}

// Triggerable reports whether a manual capture is accepted in this state.
func (s Status) Triggerable() bool {
	return s == StatusSearching || s == StatusLocking
}
