package media

import (
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes audio tracks from the video tracks some capture grants carry.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a live source of mono float32 PCM frames normalized to [-1, 1].
// Video tracks never deliver frames; they exist only because some platform
// grants come bundled with one.
type Track interface {
	ID() string
	Kind() Kind
	Label() string
	SampleRate() int
	// Samples delivers frames until Done is closed. Consumers must select on both.
	Samples() <-chan []float32
	Done() <-chan struct{}
	// Stop releases the underlying device. Safe to call more than once.
	Stop()
}

// SourceTrack is a Track fed by a producer through Push.
type SourceTrack struct {
	id     string
	kind   Kind
	label  string
	rate   int
	ch     chan []float32
	done   chan struct{}
	once   sync.Once
	onStop func()
}

// NewTrack creates a track. onStop, if non-nil, runs exactly once when the
// track is stopped or ended, and is where device handles get released.
func NewTrack(kind Kind, label string, sampleRate int, onStop func()) *SourceTrack {
	return &SourceTrack{
		id:     uuid.NewString(),
		kind:   kind,
		label:  label,
		rate:   sampleRate,
		ch:     make(chan []float32, 32),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (t *SourceTrack) ID() string                { return t.id }
func (t *SourceTrack) Kind() Kind                { return t.kind }
func (t *SourceTrack) Label() string             { return t.label }
func (t *SourceTrack) SampleRate() int           { return t.rate }
func (t *SourceTrack) Samples() <-chan []float32 { return t.ch }
func (t *SourceTrack) Done() <-chan struct{}     { return t.done }

// Push hands a frame to the consumer, blocking while the consumer is busy.
// Returns false once the track has stopped.
func (t *SourceTrack) Push(frame []float32) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.ch <- frame:
		return true
	case <-t.done:
		return false
	}
}

func (t *SourceTrack) Stop() {
	t.once.Do(func() {
		close(t.done)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// Stopped reports whether Stop has run.
func (t *SourceTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
