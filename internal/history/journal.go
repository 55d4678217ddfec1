package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Writer is the persistence side of a Journal. *Store implements it.
type Writer interface {
	CreateSession(ctx context.Context, id, title, savePath, state string, at time.Time) error
	RecordTransition(ctx context.Context, t Transition) error
	FinishSession(ctx context.Context, id, state string, at time.Time, result json.RawMessage) error
}

type entry struct {
	kind     string // "start", "transition", "finish"
	id       string
	title    string
	savePath string
	state    string
	at       time.Time
	detail   string
	result   json.RawMessage
}

// Journal writes session history asynchronously via a buffered channel.
// Entries are dropped when the buffer is full so recording never waits on
// the database. All methods are nil-safe (no-op on nil receiver).
type Journal struct {
	w    Writer
	ch   chan entry
	done chan struct{}
}

// NewJournal starts a journal over w. Must call Close when done.
func NewJournal(w Writer, buffer int) *Journal {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	j := &Journal{
		w:    w,
		ch:   make(chan entry, buffer),
		done: make(chan struct{}),
	}
	go j.drain()
	return j
}

func (j *Journal) drain() {
	defer close(j.done)
	for e := range j.ch {
		j.handle(e)
	}
}

func (j *Journal) handle(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handlers := map[string]func() error{
		"start": func() error { return j.w.CreateSession(ctx, e.id, e.title, e.savePath, e.state, e.at) },
		"transition": func() error {
			return j.w.RecordTransition(ctx, Transition{ID: uuid.NewString(), SessionID: e.id, State: e.state, At: e.at, Detail: e.detail})
		},
		"finish": func() error { return j.w.FinishSession(ctx, e.id, e.state, e.at, e.result) },
	}
	fn, ok := handlers[e.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("history write failed", "kind", e.kind, "session_id", e.id, "error", err)
	}
}

func (j *Journal) send(e entry) {
	select {
	case j.ch <- e:
	default:
		metrics.HistoryDropped.Inc()
		slog.Warn("history buffer full, entry dropped", "kind", e.kind, "session_id", e.id)
	}
}

// SessionStarted records a new session.
func (j *Journal) SessionStarted(id, title, savePath, state string, at time.Time) {
	if j == nil {
		return
	}
	j.send(entry{kind: "start", id: id, title: title, savePath: savePath, state: state, at: at})
}

// Transition records a state change. detail carries the error message for Errored.
func (j *Journal) Transition(id, state string, at time.Time, detail string) {
	if j == nil {
		return
	}
	j.send(entry{kind: "transition", id: id, state: state, at: at, detail: detail})
}

// Finished records the terminal state and, when non-nil, the result document.
func (j *Journal) Finished(id, state string, at time.Time, result any) {
	if j == nil {
		return
	}
	var doc json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			slog.Warn("history result encode failed", "session_id", id, "error", err)
		}
		doc = b
	}
	j.send(entry{kind: "finish", id: id, state: state, at: at, result: doc})
}

// Close drains pending writes and shuts down the background goroutine.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	close(j.ch)
	<-j.done
}
