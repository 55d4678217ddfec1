package processing

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Segment is one transcript line with millisecond bounds.
type Segment struct {
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Result is the terminal artifact of a session. Segments, SummaryBullets and
// ActionItems are never empty.
type Result struct {
	RecordingID    *string           `json:"recordingId"`
	SessionID      string            `json:"sessionId"`
	MeetingTitle   string            `json:"meetingTitle"`
	AudioPath      string            `json:"audioPath"`
	PlaybackURL    string            `json:"playbackUrl,omitempty"`
	MimeType       string            `json:"mimeType,omitempty"`
	Segments       []Segment         `json:"segments"`
	SummaryBullets []string          `json:"summaryBullets"`
	ActionItems    []string          `json:"actionItems"`
	SpeakerNames   map[string]string `json:"speakerNames,omitempty"`
	// Failed marks a placeholder result built after upload or processing failed.
	Failed bool `json:"failed"`
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.RecordingID != nil {
		id := *r.RecordingID
		c.RecordingID = &id
	}
	c.Segments = slices.Clone(r.Segments)
	c.SummaryBullets = slices.Clone(r.SummaryBullets)
	c.ActionItems = slices.Clone(r.ActionItems)
	c.SpeakerNames = maps.Clone(r.SpeakerNames)
	return &c
}

// Search returns segments whose text contains query, ignoring case. A blank
// query matches everything.
func (r *Result) Search(query string) []Segment {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return slices.Clone(r.Segments)
	}
	var out []Segment
	for _, s := range r.Segments {
		if strings.Contains(strings.ToLower(s.Text), q) {
			out = append(out, s)
		}
	}
	return out
}

// RenameSpeaker sets the display name for a raw speaker label. An empty
// display name removes the mapping.
func (r *Result) RenameSpeaker(raw, display string) {
	display = strings.TrimSpace(display)
	if display == "" {
		delete(r.SpeakerNames, raw)
		return
	}
	if r.SpeakerNames == nil {
		r.SpeakerNames = make(map[string]string)
	}
	r.SpeakerNames[raw] = display
}

func (r *Result) DisplaySpeaker(raw string) string {
	if name, ok := r.SpeakerNames[raw]; ok {
		return name
	}
	return raw
}

// Speakers lists the distinct raw labels in order of first appearance.
func (r *Result) Speakers() []string {
	var out []string
	for _, s := range r.Segments {
		if !slices.Contains(out, s.Speaker) {
			out = append(out, s.Speaker)
		}
	}
	return out
}

// Markdown renders the summary and transcript for terminal output and export.
func (r *Result) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Summary\n", r.MeetingTitle)
	for _, s := range r.SummaryBullets {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\n## Action items\n")
	for _, s := range r.ActionItems {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\n## Transcript\n")
	for _, s := range r.Segments {
		fmt.Fprintf(&b, "**%s** [%s–%s] %s\n", r.DisplaySpeaker(s.Speaker), FormatMs(s.StartMs), FormatMs(s.EndMs), s.Text)
	}
	return b.String()
}

// FormatMs renders a millisecond offset as mm:ss.
func FormatMs(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
