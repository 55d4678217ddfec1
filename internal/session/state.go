package session

import (
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
)

// State is a step of the recording lifecycle.
type State string

const (
	StateIdle             State = "Idle"
	StateAcquiringSources State = "AcquiringSources"
	StateCapturing        State = "Capturing"
	StateStopping         State = "Stopping"
	StateUploading        State = "Uploading"
	StateProcessing       State = "Processing"
	StateReady            State = "Ready"
	StateErrored          State = "Errored"
)

// Active reports whether s belongs to a session in progress.
func (s State) Active() bool {
	switch s {
	case StateAcquiringSources, StateCapturing, StateStopping, StateUploading, StateProcessing:
		return true
	}
	return false
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateReady || s == StateErrored
}

// Session is the single recording attempt the controller owns.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
	SavePath      string    `json:"savePath,omitempty"`
	MicOnly       bool      `json:"micOnly"`
	SelectedMicID string    `json:"selectedMicId,omitempty"`
	MimeType      string    `json:"mimeType,omitempty"`
	// SystemAudio is false when the session runs on the microphone alone.
	SystemAudio bool `json:"systemAudio"`
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State     State              `json:"state"`
	Session   *Session           `json:"session,omitempty"`
	ElapsedMs int64              `json:"elapsedMs"`
	Error     *apperr.Error      `json:"error,omitempty"`
	Result    *processing.Result `json:"result,omitempty"`
}

// StartRequest is the user's start intent.
type StartRequest struct {
	Title   string `json:"title"`
	MicOnly bool   `json:"mic_only"`
	MicID   string `json:"mic_id"`
	// Directory, when set, names the recording without a save dialog.
	Directory string `json:"directory"`
}
