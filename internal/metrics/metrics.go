package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidecar_sessions_active",
		Help: "Sessions between AcquiringSources and Ready or Errored",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecar_sessions_total",
		Help: "Sessions that reached a terminal state, by outcome",
	}, []string{"outcome"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecar_state_transitions_total",
		Help: "Session state machine transitions by target state",
	}, []string{"state"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sidecar_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10, 30, 60, 120},
	}, []string{"stage"})

	RecordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sidecar_recording_duration_seconds",
		Help:    "Wall-clock length of finished recordings",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sidecar_errors_total",
		Help: "Error counts by stage and code",
	}, []string{"stage", "code"})

	RecorderChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_recorder_chunks_total",
		Help: "Encoded chunks received from the recorder",
	})

	RecorderBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_recorder_bytes_total",
		Help: "Encoded bytes received from the recorder",
	})

	SystemAudioFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_system_audio_fallbacks_total",
		Help: "Sessions that continued mic-only after system audio failed",
	})

	MixerUnalignedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_mixer_unaligned_samples_total",
		Help: "Samples emitted unmixed because one source ran ahead of the other",
	})

	UploadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_upload_attempts_total",
		Help: "Upload HTTP attempts including retries",
	})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_upload_bytes_total",
		Help: "Audio bytes uploaded to the backend",
	})

	MicTestLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidecar_mictest_level",
		Help: "Latest microphone test level in [0, 1]",
	})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sidecar_ws_clients",
		Help: "Connected event websocket clients",
	})

	HistoryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sidecar_history_dropped_total",
		Help: "Journal entries dropped because the buffer was full",
	})
)
