package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu    sync.Mutex
	calls []string
	last  json.RawMessage
	fail  bool
	block chan struct{}
}

func (f *fakeWriter) record(kind string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	if f.fail {
		return errors.New("db down")
	}
	return nil
}

func (f *fakeWriter) CreateSession(_ context.Context, _, _, _, state string, _ time.Time) error {
	return f.record("start:" + state)
}

func (f *fakeWriter) RecordTransition(_ context.Context, t Transition) error {
	return f.record("transition:" + t.State)
}

func (f *fakeWriter) FinishSession(_ context.Context, _, state string, _ time.Time, result json.RawMessage) error {
	f.mu.Lock()
	f.last = result
	f.mu.Unlock()
	return f.record("finish:" + state)
}

func TestJournalWritesInOrder(t *testing.T) {
	w := &fakeWriter{}
	j := NewJournal(w, 8)
	now := time.Now()

	j.SessionStarted("s1", "Sync", "/tmp/a.webm", "AcquiringSources", now)
	j.Transition("s1", "Capturing", now, "")
	j.Finished("s1", "Ready", now, map[string]string{"meetingTitle": "Sync"})
	j.Close()

	assert.Equal(t, []string{"start:AcquiringSources", "transition:Capturing", "finish:Ready"}, w.calls)
	assert.JSONEq(t, `{"meetingTitle":"Sync"}`, string(w.last))
}

func TestJournalWriteErrorsDoNotStopDrain(t *testing.T) {
	w := &fakeWriter{fail: true}
	j := NewJournal(w, 8)
	j.Transition("s1", "Stopping", time.Now(), "")
	j.Transition("s1", "Errored", time.Now(), "boom")
	j.Close()
	assert.Len(t, w.calls, 2)
}

func TestJournalDropsWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	j := NewJournal(w, 1)

	// First entry is taken by the drain goroutine and blocks there; the
	// buffer then holds one more and the rest are dropped.
	for i := 0; i < 10; i++ {
		j.Transition("s1", "Capturing", time.Now(), "")
	}
	close(w.block)
	j.Close()

	assert.Less(t, len(w.calls), 10)
	assert.GreaterOrEqual(t, len(w.calls), 1)
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	assert.NotPanics(t, func() {
		j.SessionStarted("s", "t", "", "Idle", time.Now())
		j.Transition("s", "Capturing", time.Now(), "")
		j.Finished("s", "Ready", time.Now(), nil)
		j.Close()
	})
}

// TestStoreRoundTrip runs against a real database when SIDECAR_TEST_HISTORY_DSN is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("SIDECAR_TEST_HISTORY_DSN")
	if dsn == "" {
		t.Skip("SIDECAR_TEST_HISTORY_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.CreateSession(ctx, id, "Roundtrip", "/tmp/r.webm", "AcquiringSources", now))
	require.NoError(t, s.RecordTransition(ctx, Transition{ID: uuid.NewString(), SessionID: id, State: "Capturing", At: now}))
	require.NoError(t, s.FinishSession(ctx, id, "Ready", now.Add(time.Second), json.RawMessage(`{"ok":true}`)))

	sess, transitions, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ready", sess.State)
	assert.Equal(t, "Roundtrip", sess.Title)
	require.NotNil(t, sess.EndedAt)
	assert.JSONEq(t, `{"ok":true}`, string(sess.Result))
	require.Len(t, transitions, 1)
	assert.Equal(t, "Capturing", transitions[0].State)

	list, total, err := s.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, list)

	_, _, err = s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
