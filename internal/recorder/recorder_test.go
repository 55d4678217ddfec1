package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/apperr"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder/recordertest"
)

func micStream() *media.Stream {
	return media.NewStream(media.NewTrack(media.KindAudio, "mic", 48000, nil))
}

func TestSelectCodec(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		want      string
	}{
		{name: "first preferred", supported: recorder.DefaultCodecs, want: "audio/webm;codecs=opus"},
		{name: "ogg only", supported: []string{"audio/ogg"}, want: "audio/ogg"},
		{name: "nothing supported", supported: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordertest.Factory{Supported: tt.supported}
			assert.Equal(t, tt.want, recorder.SelectCodec(f, recorder.DefaultCodecs))
		})
	}
}

func TestChainFallsBackToLastForDefault(t *testing.T) {
	webm := &recordertest.Factory{Supported: []string{"audio/webm"}}
	wav := &recordertest.Factory{DefaultMime: "audio/wav"}
	chain := recorder.Chain{webm, wav}

	enc, err := chain.NewEncoder(micStream(), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", enc.MimeType())

	enc, err = chain.NewEncoder(micStream(), "")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", enc.MimeType())
	assert.Equal(t, 1, wav.Created())
}

func TestStopAwaitsAcknowledgment(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &recordertest.Factory{Supported: []string{"audio/ogg"}, HoldStop: true, StartAt: at}
	rec, err := recorder.Start(f, micStream(), recorder.Options{Timeslice: 250 * time.Millisecond})
	require.NoError(t, err)

	started, err := rec.Started(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, started)
	assert.Equal(t, 250*time.Millisecond, f.Last().Timeslice())

	enc := f.Last()
	enc.Data([]byte("one-"))
	enc.Data(nil)
	enc.Data([]byte("two-"))

	done := make(chan *recorder.Payload)
	go func() {
		p, err := rec.Stop(context.Background())
		assert.NoError(t, err)
		done <- p
	}()

	// The final slice arrives after stop was requested but before the ack.
	require.Eventually(t, func() bool { return enc.StopCalls() == 1 }, time.Second, 5*time.Millisecond)
	enc.Data([]byte("three"))
	enc.AckStop()

	p := <-done
	assert.Equal(t, "one-two-three", string(p.Bytes))
	assert.Equal(t, "audio/ogg", p.MimeType)

	again, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Equal(t, 1, enc.StopCalls())
}

func TestDefaultCodecWhenNoneSupported(t *testing.T) {
	f := &recordertest.Factory{DefaultMime: "audio/wav"}
	rec, err := recorder.Start(f, micStream(), recorder.Options{})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", rec.MimeType())
	assert.Equal(t, time.Second, f.Last().Timeslice())
}

func TestErrorBeforeStartIsRecorderFault(t *testing.T) {
	f := &recordertest.Factory{HoldStart: true}
	rec, err := recorder.Start(f, micStream(), recorder.Options{})
	require.NoError(t, err)

	f.Last().Fail(errors.New("device lost"))
	_, err = rec.Started(context.Background())
	assert.True(t, apperr.Is(err, apperr.CodeRecorderFault))
}

func TestMidCaptureFaultIsDelivered(t *testing.T) {
	f := &recordertest.Factory{}
	rec, err := recorder.Start(f, micStream(), recorder.Options{})
	require.NoError(t, err)
	_, err = rec.Started(context.Background())
	require.NoError(t, err)

	f.Last().Fail(errors.New("encoder crashed"))
	select {
	case err := <-rec.Faults():
		assert.True(t, apperr.Is(err, apperr.CodeRecorderFault))
	case <-time.After(time.Second):
		t.Fatal("no fault delivered")
	}
}

func TestSpillFileReceivesChunks(t *testing.T) {
	spill := recorder.SpillPath(filepath.Join(t.TempDir(), "meeting.webm"))
	f := &recordertest.Factory{HoldStop: true}
	rec, err := recorder.Start(f, micStream(), recorder.Options{SpillPath: spill})
	require.NoError(t, err)

	f.Last().Data([]byte("abc"))
	require.Eventually(t, func() bool { return rec.Chunks() == 1 }, time.Second, 5*time.Millisecond)

	data, err := os.ReadFile(spill)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	rec.Abort(spill)
	_, err = os.Stat(spill)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, rec.Chunks())
}

func TestNewEncoderFailure(t *testing.T) {
	f := &recordertest.Factory{NewErr: errors.New("no ffmpeg")}
	_, err := recorder.Start(f, micStream(), recorder.Options{})
	assert.True(t, apperr.Is(err, apperr.CodeRecorderFault))
}
