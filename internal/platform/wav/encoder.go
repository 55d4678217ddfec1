// Package wav is the in-process default encoder: 16-bit mono PCM in a RIFF
// container, always available.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

const MimeType = "audio/wav"

const headerLen = 44

// Factory serves the platform default and explicit "audio/wav" requests.
type Factory struct{}

func (Factory) IsTypeSupported(mime string) bool {
	return mime == MimeType
}

func (Factory) NewEncoder(stream *media.Stream, mime string) (recorder.Encoder, error) {
	if mime != "" && mime != MimeType {
		return nil, fmt.Errorf("wav encoder: unsupported type %q", mime)
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("wav encoder: stream has no audio track")
	}
	return &Encoder{
		track:  tracks[0],
		events: make(chan recorder.Event, 16),
		stop:   make(chan struct{}),
	}, nil
}

// Encoder writes the header with streaming sizes in the first chunk; Finalize
// rewrites it once the data length is known.
type Encoder struct {
	track  media.Track
	events chan recorder.Event

	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

func (e *Encoder) MimeType() string              { return MimeType }
func (e *Encoder) Events() <-chan recorder.Event { return e.events }

func (e *Encoder) Start(timeslice time.Duration) error {
	started := false
	e.startOnce.Do(func() {
		started = true
		go e.run(timeslice)
	})
	if !started {
		return errors.New("wav encoder: already started")
	}
	return nil
}

func (e *Encoder) Stop() error {
	e.stopOnce.Do(func() { close(e.stop) })
	return nil
}

func (e *Encoder) run(timeslice time.Duration) {
	defer close(e.events)

	rate := e.track.SampleRate()
	e.events <- recorder.Event{Kind: recorder.EventStarted, At: time.Now()}

	pending := audio.WAVHeader(rate, audio.StreamingSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		e.events <- recorder.Event{Kind: recorder.EventData, Data: pending, At: time.Now()}
		pending = nil
	}
	finish := func() {
		flush()
		e.events <- recorder.Event{Kind: recorder.EventStopped, At: time.Now()}
	}

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			e.drain(&pending)
			finish()
			return
		case <-e.track.Done():
			finish()
			return
		case <-ticker.C:
			flush()
		case frame, ok := <-e.track.Samples():
			if !ok {
				finish()
				return
			}
			pending = append(pending, audio.EncodePCM16(frame)...)
		}
	}
}

// drain picks up frames already queued on the track when stop was requested.
func (e *Encoder) drain(pending *[]byte) {
	for {
		select {
		case frame, ok := <-e.track.Samples():
			if !ok {
				return
			}
			*pending = append(*pending, audio.EncodePCM16(frame)...)
		default:
			return
		}
	}
}

// Finalize rewrites the streaming header with real RIFF and data sizes.
func (e *Encoder) Finalize(payload []byte) ([]byte, error) {
	return Finalize(payload)
}

// Finalize re-encodes a streamed 16-bit mono WAV payload with a complete header.
func Finalize(payload []byte) ([]byte, error) {
	if len(payload) < headerLen || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return nil, errors.New("wav finalize: not a RIFF/WAVE payload")
	}
	rate := int(binary.LittleEndian.Uint32(payload[24:28]))
	pcm := payload[headerLen:]

	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	var out seekBuffer
	enc := gowav.NewEncoder(&out, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav finalize: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav finalize: %w", err)
	}
	return out.buf, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
