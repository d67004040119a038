package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech streaming client.
type Metrics struct {
	// Session lifecycle metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionErrors   prometheus.Counter
	Reconnects      prometheus.Counter

	// Audio pipeline metrics
	ChunksSent     prometheus.Counter
	ChunkBytes     prometheus.Histogram
	ChunkSplits    prometheus.Counter
	FramesDropped  prometheus.Counter
	InputLevel     prometheus.Gauge

	// Result metrics
	PartialResults   prometheus.Counter
	FinalResults     prometheus.Counter
	DuplicateFinals  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_sessions_started_total",
			Help: "Total number of transcription sessions started",
		}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_sessions_ended_total",
			Help: "Total number of transcription sessions that reached the stopped state",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		SessionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_session_errors_total",
			Help: "Total number of fatal session errors surfaced to the application",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_reconnects_total",
			Help: "Total number of reconnection attempts after abnormal channel loss",
		}),

		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_chunks_sent_total",
			Help: "Total number of audio chunks sent to the backend",
		}),
		ChunkBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_chunk_size_bytes",
			Help:    "Size of sent audio chunks in PCM bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 9), // 256B to 64KB
		}),
		ChunkSplits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_chunk_splits_total",
			Help: "Total number of sub-chunks produced by splitting oversized frames",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_capture_frames_dropped_total",
			Help: "Total number of capture frames dropped because the pipeline was busy",
		}),
		InputLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "speech_input_level",
			Help: "Smoothed RMS level of the microphone input (0 to 1)",
		}),

		PartialResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_partial_results_total",
			Help: "Total number of partial transcription results received",
		}),
		FinalResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_final_results_total",
			Help: "Total number of final transcription results delivered",
		}),
		DuplicateFinals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "speech_duplicate_finals_total",
			Help: "Total number of retransmitted final results that were ignored",
		}),
	}
}

// RecordSessionStarted increments the sessions started counter.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a completed session and its duration.
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionError increments the fatal error counter.
func (m *Metrics) RecordSessionError() {
	m.SessionErrors.Inc()
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordChunkSent records one sent audio chunk.
func (m *Metrics) RecordChunkSent(sizeBytes int) {
	m.ChunksSent.Inc()
	m.ChunkBytes.Observe(float64(sizeBytes))
}

// RecordChunkSplits adds to the sub-chunk split counter.
func (m *Metrics) RecordChunkSplits(n int) {
	m.ChunkSplits.Add(float64(n))
}

// RecordFrameDropped increments the dropped capture frame counter.
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// SetInputLevel sets the microphone level gauge.
func (m *Metrics) SetInputLevel(level float64) {
	m.InputLevel.Set(level)
}

// RecordPartialResult increments the partial result counter.
func (m *Metrics) RecordPartialResult() {
	m.PartialResults.Inc()
}

// RecordFinalResult increments the final result counter.
func (m *Metrics) RecordFinalResult() {
	m.FinalResults.Inc()
}

// RecordDuplicateFinal increments the ignored duplicate final counter.
func (m *Metrics) RecordDuplicateFinal() {
	m.DuplicateFinals.Inc()
}
