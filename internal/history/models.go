package history

import (
	"encoding/json"
	"time"
)

// Session is one recording session as journaled.
type Session struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	SavePath        string          `json:"save_path,omitempty"`
	State           string          `json:"state"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	TransitionCount int             `json:"transition_count,omitempty"`
}

// Transition is one state change of a session.
type Transition struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
	Detail    string    `json:"detail,omitempty"`
}
