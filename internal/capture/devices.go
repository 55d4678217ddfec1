package capture

import (
	"context"

	"github.com/hubenschmidt/meeting-sidecar/internal/media"
)

// AudioConstraints selects an audio input. A zero value asks for any microphone.
type AudioConstraints struct {
	DeviceID string
	// Exact fails the request rather than substituting another device.
	Exact bool
	// DesktopSourceID requests the system-output capture of a desktop source.
	DesktopSourceID string
}

// VideoConstraints accompany desktop audio requests; the platform will not
// grant desktop audio without a video part.
type VideoConstraints struct {
	DesktopSourceID string
	MaxWidth        int
	MaxHeight       int
	MaxFrameRate    int
}

// Constraints is one capture request.
type Constraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

// DeviceInfo describes an input device. Labels may be empty until the user
// has granted capture permission once.
type DeviceInfo struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Default bool   `json:"default"`
}

// MediaDevices is the platform capture API.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*media.Stream, error)
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}

// SourceLocator finds the desktop source whose output should be captured.
// An empty id with a nil error means no source exists.
type SourceLocator interface {
	DefaultDesktopSourceID(ctx context.Context) (string, error)
}
