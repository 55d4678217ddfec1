package audio

import "math"

// RMS returns the root-mean-square amplitude of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps the RMS of samples onto [0, 1] for meters.
func Level(samples []float32) float64 {
	return max(0, min(1, RMS(samples)))
}

// EnergyDB returns the RMS energy in dBFS, floored at -100.
func EnergyDB(samples []float32) float64 {
	rms := RMS(samples)
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
