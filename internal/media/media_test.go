package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackStopRunsOnce(t *testing.T) {
	calls := 0
	tr := NewTrack(KindAudio, "mic", 48000, func() { calls++ })

	tr.Stop()
	tr.Stop()

	assert.Equal(t, 1, calls)
	assert.True(t, tr.Stopped())
	assert.False(t, tr.Push([]float32{0.1}))
}

func TestTrackPushDelivers(t *testing.T) {
	tr := NewTrack(KindAudio, "mic", 16000, nil)
	require.True(t, tr.Push([]float32{0.25, -0.25}))

	frame := <-tr.Samples()
	assert.Equal(t, []float32{0.25, -0.25}, frame)
}

func TestStreamKinds(t *testing.T) {
	audio := NewTrack(KindAudio, "desktop", 48000, nil)
	video := NewTrack(KindVideo, "screen", 0, nil)
	s := NewStream(audio, video)

	assert.Len(t, s.AudioTracks(), 1)
	assert.Len(t, s.VideoTracks(), 1)
	assert.True(t, s.HasAudio())

	s.Stop()
	assert.True(t, audio.Stopped())
	assert.True(t, video.Stopped())

	var nilStream *Stream
	assert.False(t, nilStream.HasAudio())
	nilStream.Stop()
}

func TestScopeReleasesNewestFirstOnce(t *testing.T) {
	var order []string
	var sc Scope
	sc.Defer(func() { order = append(order, "mic") })
	sc.Defer(func() { order = append(order, "graph") })

	sc.Release()
	sc.Release()

	assert.Equal(t, []string{"graph", "mic"}, order)
	assert.True(t, sc.Released())

	sc.Defer(func() { order = append(order, "late") })
	assert.Equal(t, []string{"graph", "mic", "late"}, order)
}
