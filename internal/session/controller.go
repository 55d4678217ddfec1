package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/bridge"
	"github.com/hubenschmidt/meeting-sidecar/internal/capture"
	"github.com/hubenschmidt/meeting-sidecar/internal/clock"
	"github.com/hubenschmidt/meeting-sidecar/internal/history"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
	"github.com/hubenschmidt/meeting-sidecar/internal/mixer"
	"github.com/hubenschmidt/meeting-sidecar/internal/processing"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
	"github.com/hubenschmidt/meeting-sidecar/internal/savepath"
)

const defaultStopTimeout = 30 * time.Second

// ErrCancelled is returned by Start when Cancel or Stop superseded it.
var ErrCancelled = errors.New("session start cancelled")

// Processor turns a saved recording into a result. *processing.Orchestrator
// implements it.
type Processor interface {
	Submit(ctx context.Context, s processing.Submission) *processing.Result
}

// MicTest is the part of the mic test harness the controller drives.
type MicTest interface {
	Stop()
}

// Config wires the controller's collaborators.
type Config struct {
	// Bridge is required for any capture; nil fails every start.
	Bridge    bridge.Bridge
	Devices   capture.MediaDevices
	Encoders  recorder.EncoderFactory
	Processor Processor
	MicTest   MicTest
	Journal   *history.Journal
	Clock     clock.Clock

	Extension string
	Timeslice time.Duration
	Codecs    []string
	// PlaybackURL maps a session id to the URL that serves its saved audio.
	PlaybackURL func(sessionID string) string
	// StopTimeout bounds the wait for the encoder's stop acknowledgment.
	StopTimeout time.Duration
}

// Controller is the recording session state machine. It owns at most one
// session and is the only writer of its state.
type Controller struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	state         State
	gen           uint64
	sess          *Session
	journaled     bool
	stoppedAt     time.Time
	lastErr       *apperr.Error
	result        *processing.Result
	cancelAcquire context.CancelFunc
	run           *run
	job           *stopJob
	subs          map[chan Snapshot]struct{}
}

// run holds what a capturing session must release.
type run struct {
	gen   uint64
	scope *media.Scope
	rec   *recorder.Recorder
	spill string
	// done is closed when the session leaves Capturing.
	done chan struct{}
}

type stopJob struct {
	done   chan struct{}
	result *processing.Result
	err    error
}

func New(cfg Config) *Controller {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Controller{
		cfg:   cfg,
		clock: clock.Or(cfg.Clock),
		state: StateIdle,
		subs:  map[chan Snapshot]struct{}{},
	}
}

// Snapshot returns the current state, session, last error and last result.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Active reports whether a session is between start and its terminal state.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active()
}

// Result returns a copy of the last result, or nil.
func (c *Controller) Result() *processing.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Clone()
}

// Subscribe delivers a snapshot after every change. Slow subscribers miss
// snapshots rather than block the controller. Call the returned func to
// unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 64)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// Start runs a session from intent to Capturing. It returns once the
// recorder acknowledged its start, or with the error that sent the
// controller back to Idle. A cancelled save dialog returns a
// SAVE_CANCELLED error but leaves no error on the controller.
func (c *Controller) Start(ctx context.Context, req StartRequest) (*Session, error) {
	title := strings.TrimSpace(req.Title)

	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil, apperr.New(apperr.CodeBusy, "A recording is already in progress.")
	}
	if title == "" {
		err := apperr.New(apperr.CodeValidation, "Enter a meeting title to start recording.")
		if c.state.Terminal() {
			c.setLocked(StateIdle, "")
		}
		c.rejectLocked(err)
		c.mu.Unlock()
		return nil, err
	}
	if c.cfg.Bridge == nil {
		err := apperr.New(apperr.CodeBridgeUnavailable, "Capture bridge is unavailable.")
		c.rejectLocked(err)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	// The mic test releases its device before acquisition is announced.
	if c.cfg.MicTest != nil {
		c.cfg.MicTest.Stop()
	}

	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil, apperr.New(apperr.CodeBusy, "A recording is already in progress.")
	}
	c.gen++
	gen := c.gen
	acqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelAcquire = cancel
	c.sess = &Session{
		ID:            uuid.NewString(),
		Title:         title,
		MicOnly:       req.MicOnly,
		SelectedMicID: req.MicID,
	}
	c.journaled = false
	c.stoppedAt = time.Time{}
	c.lastErr = nil
	c.result = nil
	c.setLocked(StateAcquiringSources, "")
	c.mu.Unlock()

	began := time.Now()
	sess, err := c.acquire(acqCtx, gen, title, req)
	metrics.StageDuration.WithLabelValues("acquire").Observe(time.Since(began).Seconds())
	return sess, err
}

// acquire resolves the save path, negotiates sources and starts the
// recorder, checking after every blocking step that the session is still
// the current one.
func (c *Controller) acquire(ctx context.Context, gen uint64, title string, req StartRequest) (*Session, error) {
	resolver := &savepath.Resolver{Dialog: c.cfg.Bridge, Clock: c.clock, Extension: c.cfg.Extension}
	path, err := resolver.Resolve(ctx, req.Directory, title)
	if err != nil {
		return nil, c.abortStart(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	c.sess.SavePath = path
	c.journaled = true
	c.cfg.Journal.SessionStarted(c.sess.ID, title, path, string(StateAcquiringSources), c.clock.Now())
	c.mu.Unlock()

	neg := &capture.Negotiator{Devices: c.cfg.Devices, Sources: c.cfg.Bridge}
	srcs, err := neg.Acquire(ctx, capture.Plan{MicOnly: req.MicOnly, MicID: req.MicID})
	if err != nil {
		return nil, c.abortStart(gen, err)
	}

	scope := &media.Scope{}
	scope.Defer(srcs.Stop)
	graph := mixer.Combine(srcs.System, srcs.Mic)
	scope.Defer(graph.Close)

	spill := recorder.SpillPath(path)
	rec, err := recorder.Start(c.cfg.Encoders, graph.Stream(), recorder.Options{
		Timeslice: c.cfg.Timeslice,
		Codecs:    c.cfg.Codecs,
		SpillPath: spill,
	})
	if err != nil {
		scope.Release()
		recorder.RemoveSpill(spill)
		return nil, c.abortStart(gen, err)
	}

	startedAt, err := rec.Started(ctx)
	if err != nil {
		rec.Abort(spill)
		scope.Release()
		return nil, c.abortStart(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateAcquiringSources {
		c.mu.Unlock()
		rec.Abort(spill)
		scope.Release()
		return nil, ErrCancelled
	}
	c.cancelAcquire = nil
	c.sess.StartedAt = startedAt
	c.sess.MimeType = rec.MimeType()
	c.sess.SystemAudio = srcs.System != nil
	r := &run{gen: gen, scope: scope, rec: rec, spill: spill, done: make(chan struct{})}
	c.run = r
	c.setLocked(StateCapturing, "")
	sess := *c.sess
	c.mu.Unlock()

	go c.watch(r)
	slog.Info("capture started",
		"session_id", sess.ID,
		"path", sess.SavePath,
		"mime", sess.MimeType,
		"system_audio", sess.SystemAudio,
		"fallback", srcs.Fallback,
	)
	return &sess, nil
}

// abortStart unwinds a failed start to Idle. Errors of a superseded start
// are dropped.
func (c *Controller) abortStart(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateAcquiringSources {
		return ErrCancelled
	}
	c.cancelAcquire = nil

	switch {
	case apperr.Is(err, apperr.CodeSaveCancelled):
		slog.Info("save cancelled, session aborted", "session_id", c.sess.ID)
		metrics.SessionsTotal.WithLabelValues("save_cancelled").Inc()
		c.setLocked(StateIdle, "")
		return err
	case errors.Is(err, context.Canceled):
		metrics.SessionsTotal.WithLabelValues("cancelled").Inc()
		c.finishJournalLocked("Cancelled", nil)
		c.setLocked(StateIdle, "")
		return ErrCancelled
	}

	ae := coded(err, apperr.CodeDeviceUnavailable)
	slog.Error("session start failed", "session_id", c.sess.ID, "code", ae.Code, "error", err)
	c.failLocked(ae, "start")
	c.setLocked(StateIdle, "")
	return ae
}

// watch aborts the session when the encoder faults mid-capture.
func (c *Controller) watch(r *run) {
	select {
	case err := <-r.rec.Faults():
		c.fault(r, err)
	case <-r.done:
	}
}

func (c *Controller) fault(r *run, err error) {
	c.mu.Lock()
	if c.run != r || c.state != StateCapturing {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.run = nil
	close(r.done)
	id := c.sess.ID
	ae := coded(err, apperr.CodeRecorderFault)
	c.failLocked(ae, "capture")
	c.setLocked(StateIdle, "")
	c.mu.Unlock()

	// The spill file is the only copy of the audio so far; keep it.
	r.rec.Abort("")
	r.scope.Release()
	slog.Error("recorder fault, session aborted", "session_id", id, "partial", r.spill, "error", err)
}

// Cancel abandons an acquiring or capturing session without keeping audio.
// It reports whether there was anything to cancel.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	switch c.state {
	case StateAcquiringSources:
		c.gen++
		cancel := c.cancelAcquire
		c.cancelAcquire = nil
		metrics.SessionsTotal.WithLabelValues("cancelled").Inc()
		c.finishJournalLocked("Cancelled", nil)
		c.setLocked(StateIdle, "cancelled")
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		slog.Info("session acquisition cancelled")
		return true
	case StateCapturing:
		c.gen++
		r := c.run
		c.run = nil
		close(r.done)
		metrics.SessionsTotal.WithLabelValues("cancelled").Inc()
		c.finishJournalLocked("Cancelled", nil)
		c.setLocked(StateIdle, "cancelled")
		c.mu.Unlock()
		r.rec.Abort(r.spill)
		r.scope.Release()
		slog.Info("capture cancelled, recording discarded")
		return true
	}
	c.mu.Unlock()
	return false
}

// Reset returns a finished session to Idle. The last result stays viewable.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateIdle:
		return nil
	case c.state.Terminal():
		c.lastErr = nil
		c.setLocked(StateIdle, "")
		return nil
	}
	return apperr.New(apperr.CodeBusy, "A recording is in progress.")
}

// RenameSpeaker sets the display name of a raw speaker label in the last result.
func (c *Controller) RenameSpeaker(raw, display string) (*processing.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil, apperr.New(apperr.CodeValidation, "There is no transcript to edit.")
	}
	known := false
	for _, s := range c.result.Speakers() {
		known = known || s == raw
	}
	if !known {
		return nil, apperr.Newf(apperr.CodeValidation, "Unknown speaker %q.", raw)
	}
	c.result.RenameSpeaker(raw, display)
	c.notifyLocked()
	return c.result.Clone(), nil
}

// Close releases whatever the controller still holds. A capturing session
// is stopped so its audio is saved.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateAcquiringSources:
		c.Cancel()
	case StateCapturing, StateStopping, StateUploading, StateProcessing:
		if _, err := c.Stop(ctx); err != nil {
			slog.Warn("session stop on close", "error", err)
		}
	}
}

func (c *Controller) rejectLocked(err *apperr.Error) {
	metrics.Errors.WithLabelValues("start", string(err.Code)).Inc()
	c.lastErr = err
	c.notifyLocked()
}

// failLocked records err as the last error and marks the session Errored.
func (c *Controller) failLocked(err *apperr.Error, stage string) {
	metrics.Errors.WithLabelValues(stage, string(err.Code)).Inc()
	metrics.SessionsTotal.WithLabelValues("errored").Inc()
	c.lastErr = err
	c.setLocked(StateErrored, err.Message)
	c.finishJournalLocked(string(StateErrored), nil)
}

func (c *Controller) finishJournalLocked(state string, result *processing.Result) {
	if !c.journaled || c.sess == nil {
		return
	}
	if result == nil {
		c.cfg.Journal.Finished(c.sess.ID, state, c.clock.Now(), nil)
		return
	}
	c.cfg.Journal.Finished(c.sess.ID, state, c.clock.Now(), result)
}

func (c *Controller) setLocked(s State, detail string) {
	prev := c.state
	c.state = s
	metrics.StateTransitions.WithLabelValues(string(s)).Inc()
	switch {
	case !prev.Active() && s.Active():
		metrics.SessionsActive.Inc()
	case prev.Active() && !s.Active():
		metrics.SessionsActive.Dec()
	}

	var id string
	if c.sess != nil {
		id = c.sess.ID
	}
	if c.journaled && id != "" {
		c.cfg.Journal.Transition(id, string(s), c.clock.Now(), detail)
	}
	slog.Info("session state", "session_id", id, "from", prev, "to", s)
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Result: c.result.Clone()}
	if c.sess != nil {
		s := *c.sess
		snap.Session = &s
		snap.ElapsedMs = c.elapsedLocked()
	}
	if c.lastErr != nil {
		e := *c.lastErr
		snap.Error = &e
	}
	return snap
}

// elapsedLocked measures from the recorder's start acknowledgment.
func (c *Controller) elapsedLocked() int64 {
	if c.sess == nil || c.sess.StartedAt.IsZero() {
		return 0
	}
	end := c.stoppedAt
	if end.IsZero() {
		end = c.clock.Now()
	}
	return max(0, end.Sub(c.sess.StartedAt).Milliseconds())
}

// coded returns err's *apperr.Error, or wraps err with fallback.
func coded(err error, fallback apperr.Code) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Wrap(err, fallback, "")
}
