// Package recordertest provides an in-memory encoder for tests.
package recordertest

import (
	"errors"
	"sync"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

// Factory creates fake encoders. Supported lists the accepted media types;
// the platform default is DefaultMime ("audio/wav" when empty).
type Factory struct {
	Supported   []string
	DefaultMime string
	NewErr      error
	// HoldStart keeps encoders from acknowledging Start until Ack is called.
	HoldStart bool
	// HoldStop keeps encoders from acknowledging Stop until AckStop is called.
	HoldStop bool
	// StartAt is reported as the start acknowledgment time when non-zero.
	StartAt time.Time

	mu       sync.Mutex
	encoders []*Encoder
}

func (f *Factory) IsTypeSupported(mime string) bool {
	for _, s := range f.Supported {
		if s == mime {
			return true
		}
	}
	return false
}

func (f *Factory) NewEncoder(stream *media.Stream, mime string) (recorder.Encoder, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	if mime == "" {
		mime = f.DefaultMime
		if mime == "" {
			mime = "audio/wav"
		}
	}
	e := &Encoder{
		Stream:    stream,
		mime:      mime,
		events:    make(chan recorder.Event, 64),
		holdStart: f.HoldStart,
		holdStop:  f.HoldStop,
		startAt:   f.StartAt,
	}
	f.mu.Lock()
	f.encoders = append(f.encoders, e)
	f.mu.Unlock()
	return e, nil
}

// Last returns the most recently created encoder, or nil.
func (f *Factory) Last() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}

// Created reports how many encoders were made.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encoders)
}

// Encoder is a scripted recorder.Encoder.
type Encoder struct {
	Stream *media.Stream

	mime      string
	events    chan recorder.Event
	holdStart bool
	holdStop  bool
	startAt   time.Time

	mu        sync.Mutex
	startErr  error
	stopCalls int
	closed    bool
	timeslice time.Duration
}

func (e *Encoder) MimeType() string              { return e.mime }
func (e *Encoder) Events() <-chan recorder.Event { return e.events }

// FailStart makes the next Start return err.
func (e *Encoder) FailStart(err error) {
	e.mu.Lock()
	e.startErr = err
	e.mu.Unlock()
}

func (e *Encoder) Start(timeslice time.Duration) error {
	e.mu.Lock()
	e.timeslice = timeslice
	err := e.startErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if !e.holdStart {
		e.Ack()
	}
	return nil
}

// Ack emits the start acknowledgment.
func (e *Encoder) Ack() {
	at := e.startAt
	if at.IsZero() {
		at = time.Now()
	}
	e.emit(recorder.Event{Kind: recorder.EventStarted, At: at})
}

// Data emits one chunk.
func (e *Encoder) Data(b []byte) {
	e.emit(recorder.Event{Kind: recorder.EventData, Data: b})
}

// Fail emits an encoder error.
func (e *Encoder) Fail(err error) {
	if err == nil {
		err = errors.New("fake encoder failure")
	}
	e.emit(recorder.Event{Kind: recorder.EventError, Err: err})
}

func (e *Encoder) Stop() error {
	e.mu.Lock()
	e.stopCalls++
	hold := e.holdStop
	e.mu.Unlock()
	if !hold {
		e.AckStop()
	}
	return nil
}

// AckStop emits the stop acknowledgment and closes the event channel.
func (e *Encoder) AckStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.events <- recorder.Event{Kind: recorder.EventStopped, At: time.Now()}
	close(e.events)
}

func (e *Encoder) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

func (e *Encoder) Timeslice() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeslice
}

func (e *Encoder) emit(ev recorder.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.events <- ev
}
