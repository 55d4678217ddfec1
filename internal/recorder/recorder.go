package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// Options configures one recording.
type Options struct {
	Timeslice time.Duration
	Codecs    []string
	// SpillPath, when set, receives every chunk as it arrives so a crash
	// loses at most one timeslice.
	SpillPath string
}

// Payload is the finalized recording.
type Payload struct {
	Bytes    []byte
	MimeType string
}

// Recorder drives one encoder and accumulates its chunks in arrival order.
type Recorder struct {
	enc  Encoder
	mime string

	mu      sync.Mutex
	chunks  [][]byte
	size    int
	spill   *os.File
	startAt time.Time
	lastErr error

	started  chan struct{}
	stopped  chan struct{}
	faults   chan error
	stopOnce sync.Once
	payload  *Payload
	stopErr  error
}

// Start negotiates a codec, creates the encoder and starts it. The recorder
// is not capturing until Started reports the encoder's acknowledgment.
func Start(f EncoderFactory, stream *media.Stream, opts Options) (*Recorder, error) {
	codecs := opts.Codecs
	if len(codecs) == 0 {
		codecs = DefaultCodecs
	}
	mime := SelectCodec(f, codecs)

	enc, err := f.NewEncoder(stream, mime)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRecorderFault, fmt.Sprintf("Could not start recorder: %v", err))
	}

	r := &Recorder{
		enc:     enc,
		mime:    enc.MimeType(),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
		faults:  make(chan error, 1),
	}
	if opts.SpillPath != "" {
		r.spill, err = os.OpenFile(opts.SpillPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			slog.Warn("spill file unavailable", "path", opts.SpillPath, "error", err)
			r.spill = nil
		}
	}

	go r.loop()

	timeslice := opts.Timeslice
	if timeslice <= 0 {
		timeslice = time.Second
	}
	if err = enc.Start(timeslice); err != nil {
		r.closeSpill()
		return nil, apperr.Wrap(err, apperr.CodeRecorderFault, fmt.Sprintf("Could not start recorder: %v", err))
	}
	slog.Info("recorder starting", "mime", r.mime, "timeslice", timeslice)
	return r, nil
}

// MimeType is the negotiated media type, or the platform default's.
func (r *Recorder) MimeType() string {
	return r.mime
}

// Started waits for the encoder's start acknowledgment and returns its time.
func (r *Recorder) Started(ctx context.Context) (time.Time, error) {
	select {
	case <-r.started:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.startAt.IsZero() {
			return time.Time{}, r.faultErr()
		}
		return r.startAt, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

// Faults delivers at most one mid-capture encoder error.
func (r *Recorder) Faults() <-chan error {
	return r.faults
}

// Stop requests the encoder to stop, waits for its acknowledgment and
// returns the concatenated chunks. Later calls return the first result.
func (r *Recorder) Stop(ctx context.Context) (*Payload, error) {
	r.stopOnce.Do(func() {
		r.payload, r.stopErr = r.stop(ctx)
	})
	return r.payload, r.stopErr
}

func (r *Recorder) stop(ctx context.Context) (*Payload, error) {
	if err := r.enc.Stop(); err != nil {
		slog.Warn("encoder stop request", "error", err)
	}
	select {
	case <-r.stopped:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.closeSpill()

	r.mu.Lock()
	buf := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		buf = append(buf, c...)
	}
	count := len(r.chunks)
	r.mu.Unlock()

	if fin, ok := r.enc.(Finalizer); ok {
		out, err := fin.Finalize(buf)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeRecorderFault, fmt.Sprintf("Could not finalize recording: %v", err))
		}
		buf = out
	}
	slog.Info("recorder finalized", "chunks", count, "bytes", len(buf), "mime", r.mime)
	return &Payload{Bytes: buf, MimeType: r.mime}, nil
}

// Abort stops the encoder without waiting, discards chunks and removes the spill file.
func (r *Recorder) Abort(spillPath string) {
	r.stopOnce.Do(func() {
		r.stopErr = errors.New("recording aborted")
		if err := r.enc.Stop(); err != nil {
			slog.Warn("encoder stop request", "error", err)
		}
	})
	r.mu.Lock()
	r.chunks = nil
	r.size = 0
	r.mu.Unlock()
	r.closeSpill()
	RemoveSpill(spillPath)
}

// Chunks reports how many chunks have arrived.
func (r *Recorder) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (r *Recorder) loop() {
	var startOnce, stopOnce sync.Once
	markStarted := func() { startOnce.Do(func() { close(r.started) }) }
	markStopped := func() { stopOnce.Do(func() { close(r.stopped) }) }
	defer markStopped()
	defer markStarted()

	for ev := range r.enc.Events() {
		switch ev.Kind {
		case EventStarted:
			at := ev.At
			if at.IsZero() {
				at = time.Now()
			}
			r.mu.Lock()
			r.startAt = at
			r.mu.Unlock()
			markStarted()
		case EventData:
			r.append(ev.Data)
		case EventStopped:
			markStopped()
		case EventError:
			r.fault(ev.Err)
			markStarted()
		}
	}
}

func (r *Recorder) append(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, data)
	r.size += len(data)
	metrics.RecorderChunks.Inc()
	metrics.RecorderBytes.Add(float64(len(data)))

	if r.spill == nil {
		return
	}
	if _, err := r.spill.Write(data); err != nil {
		slog.Warn("spill write failed, continuing without spill", "error", err)
		r.spill.Close()
		r.spill = nil
	}
}

func (r *Recorder) fault(err error) {
	if err == nil {
		err = errors.New("encoder error")
	}
	slog.Error("recorder fault", "error", err)
	metrics.Errors.WithLabelValues("recorder", string(apperr.CodeRecorderFault)).Inc()

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	select {
	case r.faults <- apperr.Wrap(err, apperr.CodeRecorderFault, "Recording failed."):
	default:
	}
}

// faultErr must be called with mu held.
func (r *Recorder) faultErr() error {
	if r.lastErr != nil {
		return apperr.Wrap(r.lastErr, apperr.CodeRecorderFault, "Recording failed.")
	}
	return apperr.New(apperr.CodeRecorderFault, "Recorder stopped before it started.")
}

func (r *Recorder) closeSpill() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spill != nil {
		r.spill.Close()
		r.spill = nil
	}
}

// SpillPath is where chunks of a recording destined for savePath are spilled.
func SpillPath(savePath string) string {
	return savePath + ".part"
}

// RemoveSpill deletes a spill file, ignoring a missing one.
func RemoveSpill(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove spill file", "path", path, "error", err)
	}
}
