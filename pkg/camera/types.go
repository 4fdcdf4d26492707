package camera

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/video-system/go-photo-kiosk/pkg/mjpeg"
)

// Descriptor represents a detected camera
type Descriptor struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Port  string `json:"port"`
}

// deviceNamespace scopes descriptor IDs so they do not collide with other
// name-based UUIDs.
var deviceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("go-photo-kiosk/camera"))

// NewDescriptor derives a stable ID from model and port.
func NewDescriptor(model, port string) Descriptor {
	return Descriptor{
		ID:    uuid.NewSHA1(deviceNamespace, []byte(model+"@"+port)).String(),
		Model: model,
		Port:  port,
	}
}

// CaptureRequest describes one still capture.
type CaptureRequest struct {
	OutputPath string `json:"output_path"`
	Format     string `json:"format,omitempty"`  // camera imageformat override
	Quality    int    `json:"quality,omitempty"` // 1-100, re-encode the JPEG
}

// PreviewFrame is one live-view JPEG.
type PreviewFrame = mjpeg.Frame

// State is the session's current activity.
type State int

const (
	StateIdle State = iota
	StateEnumerating
	StateCapturing
	StatePreviewing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateCapturing:
		return "capturing"
	case StatePreviewing:
		return "previewing"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as a string in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StatePreviewing; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown camera state %q", text)
}
