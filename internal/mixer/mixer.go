package mixer

import (
	"log/slog"
	"sync"

	"github.com/hubenschmidt/meeting-sidecar/internal/audio"
	"github.com/hubenschmidt/meeting-sidecar/internal/media"
	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

// Graph sums every audio track of its inputs into one output track.
// A Graph built over a single stream does no mixing; Stream returns that
// stream and Close is a no-op.
type Graph struct {
	stream *media.Stream
	out    *media.SourceTrack

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Combine mixes system and mic into one stream. When system is nil or has no
// audio the mic stream is returned untouched. The sources stay owned by the
// caller; closing the graph does not stop them.
func Combine(system, mic *media.Stream) *Graph {
	if !system.HasAudio() {
		return &Graph{stream: mic}
	}

	inputs := append(system.AudioTracks(), mic.AudioTracks()...)
	rate := inputs[len(inputs)-1].SampleRate()

	g := &Graph{stop: make(chan struct{})}
	g.out = media.NewTrack(media.KindAudio, "mix", rate, nil)
	g.stream = media.NewStream(g.out)

	g.wg.Add(1)
	go g.run(inputs, rate)
	return g
}

// Stream is the mixed output.
func (g *Graph) Stream() *media.Stream {
	return g.stream
}

// Mixed reports whether a mixing goroutine is running behind Stream.
func (g *Graph) Mixed() bool {
	return g.out != nil
}

// Close stops mixing and ends the output track. Safe to call more than once.
func (g *Graph) Close() {
	if g == nil || g.out == nil {
		return
	}
	g.halt()
	g.wg.Wait()
}

func (g *Graph) halt() {
	g.once.Do(func() {
		close(g.stop)
		g.out.Stop()
	})
}

type frame struct {
	input   int
	samples []float32
	ended   bool
}

func (g *Graph) run(inputs []media.Track, rate int) {
	defer g.wg.Done()

	frames := make(chan frame, len(inputs)*4)
	var readers sync.WaitGroup
	for i, t := range inputs {
		readers.Add(1)
		go func() {
			defer readers.Done()
			g.read(i, t, rate, frames)
		}()
	}
	defer func() {
		g.halt()
		readers.Wait()
	}()

	m := newMix(len(inputs), rate)
	for {
		select {
		case <-g.stop:
			return
		case f := <-frames:
			if f.ended {
				m.end(f.input)
			} else {
				m.add(f.input, f.samples)
			}
			for _, chunk := range m.drain() {
				if !g.out.Push(chunk) {
					return
				}
			}
			if m.finished() {
				slog.Info("mixer inputs ended")
				return
			}
		}
	}
}

func (g *Graph) read(i int, t media.Track, rate int, frames chan<- frame) {
	send := func(f frame) bool {
		select {
		case frames <- f:
			return true
		case <-g.stop:
			return false
		}
	}
	// Each track keeps its own resampler so frame boundaries stay continuous.
	rs := audio.NewResampler(t.SampleRate(), rate)
	for {
		select {
		case <-g.stop:
			return
		case <-t.Done():
			send(frame{input: i, ended: true})
			return
		case s, ok := <-t.Samples():
			if !ok {
				send(frame{input: i, ended: true})
				return
			}
			out := rs.Process(s)
			if len(out) == 0 {
				continue
			}
			if !send(frame{input: i, samples: out}) {
				return
			}
		}
	}
}

// mix holds per-input samples not yet emitted. Output advances at the pace of
// the slowest live input; samples an input holds beyond maxLag are emitted
// unmixed, so a stalled input never makes the others buffer without bound.
type mix struct {
	pending [][]float32
	live    []bool
	maxLag  int
}

func newMix(n, rate int) *mix {
	live := make([]bool, n)
	for i := range live {
		live[i] = true
	}
	return &mix{pending: make([][]float32, n), live: live, maxLag: rate}
}

func (m *mix) add(i int, samples []float32) {
	m.pending[i] = append(m.pending[i], samples...)
}

func (m *mix) end(i int) {
	m.live[i] = false
}

func (m *mix) finished() bool {
	for i, l := range m.live {
		if l || len(m.pending[i]) > 0 {
			return false
		}
	}
	return true
}

// drain returns the chunks that can be emitted now.
func (m *mix) drain() [][]float32 {
	var out [][]float32

	for i, p := range m.pending {
		if excess := len(p) - m.maxLag; excess > 0 {
			out = append(out, m.take(i, excess))
			metrics.MixerUnalignedSamples.Add(float64(excess))
		}
	}

	n := -1
	for i, l := range m.live {
		if !l {
			continue
		}
		if n < 0 || len(m.pending[i]) < n {
			n = len(m.pending[i])
		}
	}
	if n < 0 {
		// Every input ended; flush what remains.
		for _, p := range m.pending {
			n = max(n, len(p))
		}
	}
	if n <= 0 {
		return out
	}

	sum := make([]float32, n)
	for i, p := range m.pending {
		k := min(n, len(p))
		for j := range k {
			sum[j] += p[j]
		}
		m.pending[i] = p[k:]
	}
	for j, s := range sum {
		sum[j] = max(-1, min(1, s))
	}
	return append(out, sum)
}

func (m *mix) take(i, n int) []float32 {
	chunk := make([]float32, n)
	copy(chunk, m.pending[i][:n])
	m.pending[i] = m.pending[i][n:]
	return chunk
}
