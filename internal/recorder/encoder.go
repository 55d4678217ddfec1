package recorder

import (
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/media"
)

// DefaultCodecs is the codec preference order, best first.
var DefaultCodecs = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/ogg",
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventData
	EventStopped
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventData:
		return "data"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one notification from a platform encoder.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
	At   time.Time
}

// Encoder is a platform encoder bound to one stream. Events are delivered in
// order on Events; the channel is closed after EventStopped.
type Encoder interface {
	// MimeType is the media type of the produced bytes.
	MimeType() string
	// Start begins encoding and emits an EventData every timeslice.
	Start(timeslice time.Duration) error
	// Stop requests the encoder to flush and finish. Completion is signalled
	// by EventStopped, not by Stop returning.
	Stop() error
	Events() <-chan Event
}

// EncoderFactory creates encoders. An empty mime selects the platform default.
type EncoderFactory interface {
	IsTypeSupported(mime string) bool
	NewEncoder(stream *media.Stream, mime string) (Encoder, error)
}

// Finalizer is implemented by encoders whose concatenated output needs a
// final rewrite, such as a container header that records the data length.
type Finalizer interface {
	Finalize(payload []byte) ([]byte, error)
}

// SelectCodec returns the first preferred type the factory supports, or ""
// for the platform default.
func SelectCodec(f EncoderFactory, preferred []string) string {
	for _, mime := range preferred {
		if f.IsTypeSupported(mime) {
			return mime
		}
	}
	return ""
}

// Chain tries factories in order. The platform default is served by the last one.
type Chain []EncoderFactory

func (c Chain) IsTypeSupported(mime string) bool {
	for _, f := range c {
		if f.IsTypeSupported(mime) {
			return true
		}
	}
	return false
}

func (c Chain) NewEncoder(stream *media.Stream, mime string) (Encoder, error) {
	if mime != "" {
		for _, f := range c {
			if f.IsTypeSupported(mime) {
				return f.NewEncoder(stream, mime)
			}
		}
	}
	return c[len(c)-1].NewEncoder(stream, "")
}
