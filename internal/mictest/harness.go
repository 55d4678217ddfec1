package mictest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// MicSource opens a microphone.
type MicSource interface {
	AcquireMicrophone(ctx context.Context, deviceID string) (*media.Stream, error)
}

// Config controls the meter.
type Config struct {
	Tick   time.Duration
	Window int
}

// Reading is one meter sample.
type Reading struct {
	Level    float64 `json:"level"`
	Speaking bool    `json:"speaking"`
}

// Harness is a transient microphone level meter. It never runs alongside a
// recording session: Start is refused while Guard reports a session, and the
// session stops the harness before acquiring its own sources.
type Harness struct {
	src MicSource
	cfg Config

	// Guard reports whether a recording session is active.
	Guard func() bool
	// OnReading receives every meter update from the sampling goroutine.
	OnReading func(Reading)

	mu      sync.Mutex
	gen     uint64
	active  bool
	stream  *media.Stream
	cancel  context.CancelFunc
	done    chan struct{}
	reading Reading
}

func New(src MicSource, cfg Config) *Harness {
	if cfg.Tick <= 0 {
		cfg.Tick = 16 * time.Millisecond
	}
	if cfg.Window <= 0 {
		cfg.Window = 256
	}
	return &Harness{src: src, cfg: cfg}
}

// Start opens the microphone and begins sampling. Starting an active
// harness is a no-op.
func (h *Harness) Start(ctx context.Context, micID string) error {
	if h.guarded() {
		return apperr.New(apperr.CodeBusy, "Stop the recording before testing the microphone.")
	}
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return nil
	}
	gen := h.gen
	h.mu.Unlock()

	stream, err := h.src.AcquireMicrophone(ctx, micID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// A Stop or a session start while the microphone was being opened wins.
	if h.gen != gen || h.active || h.guarded() {
		stream.Stop()
		if h.active {
			return nil
		}
		return apperr.New(apperr.CodeBusy, "Microphone test was superseded.")
	}

	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		stream.Stop()
		return apperr.New(apperr.CodeDeviceUnavailable, "Microphone stream has no audio.")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h.active = true
	h.stream = stream
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.sample(loopCtx, tracks[0], h.done)

	slog.Info("mic test started", "device_id", micID)
	return nil
}

// Stop cancels sampling and releases the microphone. Safe to call at any time.
func (h *Harness) Stop() {
	h.mu.Lock()
	h.gen++
	if !h.active {
		h.mu.Unlock()
		return
	}
	cancel, stream, done := h.cancel, h.stream, h.done
	h.active = false
	h.stream = nil
	h.cancel = nil
	h.reading = Reading{}
	h.mu.Unlock()

	cancel()
	stream.Stop()
	<-done
	metrics.MicTestLevel.Set(0)
	if h.OnReading != nil {
		h.OnReading(Reading{})
	}
	slog.Info("mic test stopped")
}

func (h *Harness) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Level is the latest normalized RMS in [0, 1], 0 when inactive.
func (h *Harness) Level() float64 {
	return h.Reading().Level
}

func (h *Harness) Reading() Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reading
}

func (h *Harness) guarded() bool {
	return h.Guard != nil && h.Guard()
}

func (h *Harness) sample(ctx context.Context, track media.Track, done chan struct{}) {
	defer close(done)

	window := newRing(h.cfg.Window)
	gate := audio.NewGate(audio.DefaultGateConfig(track.SampleRate()))
	speaking := false
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-track.Done():
			return
		case frame, ok := <-track.Samples():
			if !ok {
				return
			}
			window.write(frame)
			speaking = gate.Process(frame)
		case <-ticker.C:
			r := Reading{Level: audio.Level(window.snapshot()), Speaking: speaking}
			h.mu.Lock()
			if ctx.Err() == nil {
				h.reading = r
			}
			h.mu.Unlock()
			metrics.MicTestLevel.Set(r.Level)
			if h.OnReading != nil {
				h.OnReading(r)
			}
		}
	}
}

// ring keeps the newest n samples.
type ring struct {
	buf  []float32
	pos  int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]float32, n)}
}

func (r *ring) write(samples []float32) {
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.pos = 0
		r.full = true
		return
	}
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos++
		if r.pos == len(r.buf) {
			r.pos = 0
			r.full = true
		}
	}
}

func (r *ring) snapshot() []float32 {
	if !r.full {
		return r.buf[:r.pos]
	}
	return r.buf
}
