package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

// EncoderFactory encodes with ffmpeg. It supports nothing when the binary is missing.
type EncoderFactory struct {
	cfg       Config
	available bool
}

func NewEncoderFactory(cfg Config) *EncoderFactory {
	cfg = cfg.withDefaults()
	err := cfg.Available()
	if err != nil {
		slog.Warn("ffmpeg encoder disabled", "error", err)
	}
	return &EncoderFactory{cfg: cfg, available: err == nil}
}

func (f *EncoderFactory) IsTypeSupported(mime string) bool {
	if !f.available {
		return false
	}
	_, ok := codecs[mime]
	return ok
}

func (f *EncoderFactory) NewEncoder(stream *media.Stream, mime string) (recorder.Encoder, error) {
	if !f.available {
		return nil, errors.New("ffmpeg encoder: ffmpeg not available")
	}
	if mime == "" {
		mime = "audio/webm;codecs=opus"
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("ffmpeg encoder: stream has no audio track")
	}
	args, err := encodeArgs(tracks[0].SampleRate(), mime)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		path:   f.cfg.Path,
		args:   args,
		mime:   mime,
		track:  tracks[0],
		events: make(chan recorder.Event, 16),
		stop:   make(chan struct{}),
	}, nil
}

// Encoder feeds a track's PCM into an ffmpeg process and slices its
// container output into chunks every timeslice.
type Encoder struct {
	path   string
	args   []string
	mime   string
	track  media.Track
	events chan recorder.Event

	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	mu      sync.Mutex
	pending []byte
}

func (e *Encoder) MimeType() string              { return e.mime }
func (e *Encoder) Events() <-chan recorder.Event { return e.events }

func (e *Encoder) Stop() error {
	e.stopOnce.Do(func() { close(e.stop) })
	return nil
}

func (e *Encoder) Start(timeslice time.Duration) error {
	var err error
	started := false
	e.startOnce.Do(func() {
		started = true
		err = e.start(timeslice)
	})
	if !started {
		return errors.New("ffmpeg encoder: already started")
	}
	return err
}

func (e *Encoder) start(timeslice time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.path, e.args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err = cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	e.events <- recorder.Event{Kind: recorder.EventStarted, At: time.Now()}

	readDone := make(chan struct{})
	go e.feed(stdin)
	go func() {
		defer close(readDone)
		e.read(stdout)
	}()
	go e.slice(timeslice, readDone, func() {
		err := cmd.Wait()
		cancel()
		e.finish(err, stderr.String())
	})
	return nil
}

// feed writes track samples to ffmpeg until stop or track end, then closes
// stdin so ffmpeg flushes its trailer.
func (e *Encoder) feed(stdin io.WriteCloser) {
	defer stdin.Close()
	for {
		select {
		case <-e.stop:
			return
		case <-e.track.Done():
			return
		case frame, ok := <-e.track.Samples():
			if !ok {
				return
			}
			if _, err := stdin.Write(audio.EncodeFloat32(frame)); err != nil {
				slog.Warn("ffmpeg stdin write", "error", err)
				return
			}
		}
	}
}

func (e *Encoder) read(stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// slice emits pending output every timeslice until ffmpeg's stdout closes,
// then runs done.
func (e *Encoder) slice(timeslice time.Duration, readDone <-chan struct{}, done func()) {
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-readDone:
			e.flush()
			done()
			return
		}
	}
}

func (e *Encoder) flush() {
	e.mu.Lock()
	chunk := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(chunk) > 0 {
		e.events <- recorder.Event{Kind: recorder.EventData, Data: chunk, At: time.Now()}
	}
}

// finish reports an exit error only when nobody asked ffmpeg to stop.
func (e *Encoder) finish(waitErr error, stderr string) {
	stopped := false
	select {
	case <-e.stop:
		stopped = true
	default:
	}
	if waitErr != nil && !stopped {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = waitErr.Error()
		}
		e.events <- recorder.Event{Kind: recorder.EventError, Err: fmt.Errorf("ffmpeg: %s", msg), At: time.Now()}
	}
	e.events <- recorder.Event{Kind: recorder.EventStopped, At: time.Now()}
	close(e.events)
}
