package audio

import "math"

const resampleTaps = 31

// Resampler converts a continuous stream between sample rates. Output
// positions are computed from absolute sample counts, so splitting the input
// into frames yields the same samples as one call over the whole buffer and
// the output length never drifts from len(in)*dst/src by more than one sample.
// A Resampler is not safe for concurrent use; give each stream its own.
type Resampler struct {
	src, dst int64
	pre      *fir // anti-aliasing before interpolation when downsampling
	post     *fir // anti-imaging after interpolation when upsampling

	started bool
	prev    float32
	base    int64 // absolute input index of the carried sample
	emitted int64
}

func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{src: int64(srcRate), dst: int64(dstRate)}
	if srcRate == dstRate {
		return r
	}
	cutoff := float64(min(srcRate, dstRate)) / 2
	if srcRate > dstRate {
		r.pre = newFIR(sincKernel(cutoff, float64(srcRate), resampleTaps))
	} else {
		r.post = newFIR(sincKernel(cutoff, float64(dstRate), resampleTaps))
	}
	return r
}

// Process converts the next frame. Matching rates return in unchanged.
func (r *Resampler) Process(in []float32) []float32 {
	if r.src == r.dst || len(in) == 0 {
		return in
	}
	if r.pre != nil {
		in = r.pre.process(in)
	}
	out := r.interpolate(in)
	if r.post != nil {
		out = r.post.process(out)
	}
	return out
}

// interpolate emits every output sample whose source position falls between
// two known input samples; the last input sample is carried to the next call.
func (r *Resampler) interpolate(in []float32) []float32 {
	x := in
	if r.started {
		x = make([]float32, 0, len(in)+1)
		x = append(x, r.prev)
		x = append(x, in...)
	}

	out := make([]float32, 0, int64(len(x))*r.dst/r.src+1)
	for {
		num := r.emitted * r.src
		idx := num/r.dst - r.base
		if idx+1 >= int64(len(x)) {
			break
		}
		frac := float32(num%r.dst) / float32(r.dst)
		out = append(out, x[idx]*(1-frac)+x[idx+1]*frac)
		r.emitted++
	}

	r.base += int64(len(x) - 1)
	r.prev = x[len(x)-1]
	r.started = true
	return out
}

// Resample converts a complete buffer from srcRate to dstRate.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	return NewResampler(srcRate, dstRate).Process(samples)
}

// fir is a streaming FIR filter that keeps the last len(kernel)-1 inputs so
// consecutive frames are filtered as one signal.
type fir struct {
	kernel []float32
	tail   []float32
}

func newFIR(kernel []float32) *fir {
	return &fir{kernel: kernel, tail: make([]float32, len(kernel)-1)}
}

func (f *fir) process(in []float32) []float32 {
	buf := make([]float32, 0, len(f.tail)+len(in))
	buf = append(buf, f.tail...)
	buf = append(buf, in...)

	out := make([]float32, len(in))
	for i := range out {
		var sum float32
		for j, k := range f.kernel {
			sum += buf[i+j] * k
		}
		out[i] = sum
	}
	copy(f.tail, buf[len(buf)-len(f.tail):])
	return out
}

// sincKernel generates a normalized, symmetric windowed-sinc low-pass kernel
// using a Blackman window.
func sincKernel(cutoff, sampleRate float64, taps int) []float32 {
	fc := cutoff / sampleRate
	half := taps / 2
	kernel := make([]float32, taps)

	var sum float64
	for i := range taps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2.0 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2.0*math.Pi*float64(i)/float64(taps-1)) +
			0.08*math.Cos(4.0*math.Pi*float64(i)/float64(taps-1))
		val := sinc * w
		kernel[i] = float32(val)
		sum += val
	}

	scale := float32(1.0 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}
	return kernel
}
