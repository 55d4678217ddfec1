package processing

import (
	"fmt"
	"math"
	"strings"
)

const (
	placeholderNoText      = "(No transcript text returned.)"
	placeholderNoSummary   = "(No summary returned.)"
	placeholderNoActions   = "(No action items returned.)"
	placeholderSummaryFail = "(Summary unavailable.)"
	placeholderActionsFail = "(Action items unavailable.)"
	messageUploadFailed    = "Upload failed."
	messageProcessFailed   = "Processing failed."
)

// SpeakerPolicy assigns labels to segments the backend left unlabeled.
type SpeakerPolicy string

const (
	// PolicyFixed gives every unlabeled segment the default speaker.
	PolicyFixed SpeakerPolicy = "fixed"
	// PolicyAlternate alternates Speaker 1 and Speaker 2 by segment index.
	PolicyAlternate SpeakerPolicy = "alternate"
)

func ParseSpeakerPolicy(s string) (SpeakerPolicy, error) {
	switch p := SpeakerPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyFixed:
		return PolicyFixed, nil
	case PolicyAlternate:
		return PolicyAlternate, nil
	}
	return "", fmt.Errorf("unknown speaker policy %q (want fixed or alternate)", s)
}

// Labeler applies a SpeakerPolicy. Backend-provided labels always win.
type Labeler struct {
	Policy  SpeakerPolicy
	Default string
}

func (l Labeler) Label(index int, provided string) string {
	if p := strings.TrimSpace(provided); p != "" {
		return p
	}
	if l.Policy == PolicyAlternate {
		if index%2 == 0 {
			return "Speaker 1"
		}
		return "Speaker 2"
	}
	if l.Default != "" {
		return l.Default
	}
	return "Speaker 1"
}

// ProcessResponse is the backend's process reply.
type ProcessResponse struct {
	ID         string `json:"id"`
	Transcript struct {
		Text     *string      `json:"text"`
		Segments []RawSegment `json:"segments"`
	} `json:"transcript"`
	Summary struct {
		Bullets     []string `json:"bullets"`
		ActionItems []string `json:"action_items"`
	} `json:"summary"`
}

// RawSegment has bounds in floating-point seconds.
type RawSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

// Meta carries what the session knows about the recording.
type Meta struct {
	SessionID   string
	Title       string
	AudioPath   string
	PlaybackURL string
	MimeType    string
	ElapsedMs   int64
}

func (m Meta) base(recordingID *string) *Result {
	return &Result{
		RecordingID:  recordingID,
		SessionID:    m.SessionID,
		MeetingTitle: m.Title,
		AudioPath:    m.AudioPath,
		PlaybackURL:  m.PlaybackURL,
		MimeType:     m.MimeType,
	}
}

// toMs converts seconds to milliseconds, truncating toward negative infinity.
func toMs(sec float64) int64 {
	return int64(math.Floor(sec * 1000))
}

// spanMs is the synthetic segment length: the elapsed recording time, at least one second.
func spanMs(elapsedMs int64) int64 {
	return max(1000, elapsedMs)
}

// Normalize maps a process response onto a Result.
func Normalize(resp *ProcessResponse, meta Meta, labeler Labeler) *Result {
	id := resp.ID
	res := meta.base(&id)

	if len(resp.Transcript.Segments) > 0 {
		res.Segments = make([]Segment, len(resp.Transcript.Segments))
		for i, s := range resp.Transcript.Segments {
			provided := ""
			if s.Speaker != nil {
				provided = *s.Speaker
			}
			start, end := toMs(s.Start), toMs(s.End)
			res.Segments[i] = Segment{
				StartMs: start,
				EndMs:   max(start, end),
				Speaker: labeler.Label(i, provided),
				Text:    s.Text,
			}
		}
	} else {
		text := ""
		if resp.Transcript.Text != nil {
			text = strings.TrimSpace(*resp.Transcript.Text)
		}
		if text == "" {
			text = placeholderNoText
		}
		res.Segments = []Segment{{StartMs: 0, EndMs: spanMs(meta.ElapsedMs), Speaker: labeler.Label(0, ""), Text: text}}
	}

	res.SummaryBullets = orPlaceholder(resp.Summary.Bullets, placeholderNoSummary)
	res.ActionItems = orPlaceholder(resp.Summary.ActionItems, placeholderNoActions)
	return res
}

// Failure builds the placeholder result whose single segment carries message.
// recordingID is set when the upload succeeded before processing failed.
func Failure(meta Meta, recordingID *string, message string, labeler Labeler) *Result {
	res := meta.base(recordingID)
	if strings.TrimSpace(message) == "" {
		message = messageProcessFailed
	}
	res.Segments = []Segment{{StartMs: 0, EndMs: spanMs(meta.ElapsedMs), Speaker: labeler.Label(0, ""), Text: message}}
	res.SummaryBullets = []string{placeholderSummaryFail}
	res.ActionItems = []string{placeholderActionsFail}
	res.Failed = true
	return res
}

func orPlaceholder(items []string, placeholder string) []string {
	if len(items) == 0 {
		return []string{placeholder}
	}
	return items
}

func transcriptText(resp *ProcessResponse) string {
	if resp.Transcript.Text != nil {
		if t := strings.TrimSpace(*resp.Transcript.Text); t != "" {
			return t
		}
	}
	parts := make([]string, 0, len(resp.Transcript.Segments))
	for _, s := range resp.Transcript.Segments {
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
