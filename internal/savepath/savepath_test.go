package savepath

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/clock"
)

type fakeDialog struct {
	answer string
	err    error
	calls  int
	asked  string
}

func (d *fakeDialog) ShowSaveDialog(_ context.Context, name string) (string, error) {
	d.calls++
	d.asked = name
	return d.answer, d.err
}

var fixed = clock.Fixed(time.Date(2025, 1, 2, 3, 4, 5, 678_000_000, time.UTC))

func TestResolveWithDirectory(t *testing.T) {
	tests := []struct {
		name  string
		dir   string
		title string
		want  string
	}{
		{name: "adds separator", dir: "/rec", title: "Team Sync", want: "/rec/Team_Sync_2025-01-02T03-04-05.678Z.webm"},
		{name: "keeps trailing slash", dir: "/rec/", title: "Team Sync", want: "/rec/Team_Sync_2025-01-02T03-04-05.678Z.webm"},
		{name: "windows directory", dir: `C:\rec`, title: "Team Sync", want: `C:\rec\Team_Sync_2025-01-02T03-04-05.678Z.webm`},
		{name: "collapses whitespace", dir: "/rec", title: "  Weekly \t Planning  ", want: "/rec/Weekly_Planning_2025-01-02T03-04-05.678Z.webm"},
		{name: "unsafe characters", dir: "/rec", title: "Q1/Q2: plan", want: "/rec/Q1-Q2-_plan_2025-01-02T03-04-05.678Z.webm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialog{}
			r := &Resolver{Dialog: d, Clock: fixed}
			got, err := r.Resolve(context.Background(), tt.dir, tt.title)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, d.calls, "no prompt when a directory is configured")
		})
	}
}

func TestResolveLocalTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	r := &Resolver{Clock: clock.Fixed(time.Date(2025, 1, 1, 22, 0, 0, 0, loc)), Extension: ".ogg"}
	assert.Equal(t, "a_2025-01-02T03-00-00.000Z.ogg", r.Filename("a"))
}

func TestResolveDialog(t *testing.T) {
	d := &fakeDialog{answer: "/home/me/call.webm"}
	r := &Resolver{Dialog: d, Clock: fixed}

	got, err := r.Resolve(context.Background(), "", "Team Sync")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/call.webm", got)
	assert.Equal(t, "Team_Sync_2025-01-02T03-04-05.678Z.webm", d.asked)
}

func TestResolveDialogCancelled(t *testing.T) {
	r := &Resolver{Dialog: &fakeDialog{}, Clock: fixed}
	_, err := r.Resolve(context.Background(), "", "Team Sync")
	assert.True(t, apperr.Is(err, apperr.CodeSaveCancelled))

	_, err = (&Resolver{Clock: fixed}).Resolve(context.Background(), "", "x")
	assert.True(t, apperr.Is(err, apperr.CodeBridgeUnavailable))
}

func TestResolveDialogFailure(t *testing.T) {
	crash := errors.New("zenity: exit status 255")
	r := &Resolver{Dialog: &fakeDialog{err: crash}, Clock: fixed}

	_, err := r.Resolve(context.Background(), "", "Team Sync")
	assert.True(t, apperr.Is(err, apperr.CodeBridgeUnavailable))
	assert.ErrorIs(t, err, crash)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "", "Team Sync")
	assert.ErrorIs(t, err, context.Canceled)
}
