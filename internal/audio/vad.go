package audio

import "time"

// GateConfig controls the speech gate.
type GateConfig struct {
	ThresholdDB float64
	// Hangover keeps the gate open through short pauses between words.
	Hangover   time.Duration
	SampleRate int
}

func DefaultGateConfig(sampleRate int) GateConfig {
	return GateConfig{
		ThresholdDB: -45,
		Hangover:    300 * time.Millisecond,
		SampleRate:  sampleRate,
	}
}

// Gate is an energy-based voice activity detector. Time is measured in
// samples fed, so results do not depend on how fast frames arrive.
type Gate struct {
	cfg         GateConfig
	hangover    int
	open        bool
	sinceSpeech int
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		cfg:      cfg,
		hangover: int(cfg.Hangover.Seconds() * float64(cfg.SampleRate)),
	}
}

// Process feeds a frame and reports whether speech is currently present.
func (g *Gate) Process(samples []float32) bool {
	if len(samples) == 0 {
		return g.open
	}
	if EnergyDB(samples) >= g.cfg.ThresholdDB {
		g.open = true
		g.sinceSpeech = 0
		return true
	}
	if !g.open {
		return false
	}
	g.sinceSpeech += len(samples)
	if g.sinceSpeech >= g.hangover {
		g.open = false
	}
	return g.open
}
