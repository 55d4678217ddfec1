package wav

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	gowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/recorder"
)

func TestFactoryServesDefault(t *testing.T) {
	var f Factory
	assert.True(t, f.IsTypeSupported("audio/wav"))
	assert.False(t, f.IsTypeSupported("audio/webm"))

	_, err := f.NewEncoder(media.NewStream(), "")
	assert.Error(t, err)

	_, err = f.NewEncoder(media.NewStream(media.NewTrack(media.KindAudio, "mic", 8000, nil)), "audio/ogg")
	assert.Error(t, err)
}

func TestRecordThroughRecorder(t *testing.T) {
	track := media.NewTrack(media.KindAudio, "mic", 8000, nil)
	rec, err := recorder.Start(Factory{}, media.NewStream(track), recorder.Options{Timeslice: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = rec.Started(context.Background())
	require.NoError(t, err)

	require.True(t, track.Push([]float32{0.5, -0.5}))
	require.True(t, track.Push([]float32{0.25}))
	require.Eventually(t, func() bool { return rec.Chunks() >= 1 }, time.Second, 5*time.Millisecond)

	p, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", p.MimeType)
	require.Len(t, p.Bytes, 44+6)
	assert.Equal(t, uint32(36+6), binary.LittleEndian.Uint32(p.Bytes[4:8]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(p.Bytes[40:44]))

	d := gowav.NewDecoder(bytes.NewReader(p.Bytes))
	assert.True(t, d.IsValidFile())
}

func TestFinalizeRejectsGarbage(t *testing.T) {
	_, err := Finalize([]byte("not a wav"))
	assert.Error(t, err)

	out, err := Finalize(audio.WAVHeader(16000, audio.StreamingSize))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[40:44]))
}
