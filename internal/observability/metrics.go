package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_transcriber_active_sessions",
		Help: "Number of running transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_transcriber_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_transcriber_session_duration_seconds",
		Help:    "Duration of sessions in seconds",
		Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
	})

	// Stream metrics
	streamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_stream_events_total",
		Help: "Stream lifecycle events",
	}, []string{"event"}) // event: acquired, acquire_failed, ended, dropped

	// VAD metrics
	segmentsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_segments_total",
		Help: "Speech segments produced by VAD",
	}, []string{"outcome"}) // outcome: emitted, discarded

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_transcriber_segment_duration_seconds",
		Help:    "Duration of emitted speech segments",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	speakerAttributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_speaker_attributions_total",
		Help: "Segments attributed per speaker label",
	}, []string{"speaker"})

	// Backend metrics
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_backend_requests_total",
		Help: "Total number of transcription backend calls",
	}, []string{"backend", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_transcriber_backend_latency_seconds",
		Help:    "Transcription backend latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"backend"})

	dispatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_transcriber_dispatch_retries_total",
		Help: "Transcription attempts retried after a failure",
	})

	dispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_dispatch_outcomes_total",
		Help: "Final state of dispatched segments",
	}, []string{"outcome"}) // outcome: final, removed, errored, duplicate

	inFlightSegments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_transcriber_inflight_segments",
		Help: "Segments awaiting a backend result",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_transcriber_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcriber_audio_bytes_total",
		Help: "Total audio bytes received",
	}, []string{"role"})

	recordedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_transcriber_recorded_bytes_total",
		Help: "Bytes finalized by the continuous recorder",
	})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStreamEvent records a stream lifecycle event
func (m *Metrics) RecordStreamEvent(event string) {
	streamEvents.WithLabelValues(event).Inc()
}

// RecordSegment records a VAD outcome; duration is only observed for emitted segments
func (m *Metrics) RecordSegment(emitted bool, duration time.Duration) {
	if !emitted {
		segmentsDetected.WithLabelValues("discarded").Inc()
		return
	}
	segmentsDetected.WithLabelValues("emitted").Inc()
	segmentDuration.Observe(duration.Seconds())
}

// RecordAttribution records which speaker a segment was assigned to
func (m *Metrics) RecordAttribution(speaker string) {
	speakerAttributions.WithLabelValues(speaker).Inc()
}

// RecordBackendCall records one backend invocation
func (m *Metrics) RecordBackendCall(backend string, latency time.Duration, success bool) {
	backendLatency.WithLabelValues(backend).Observe(latency.Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	backendRequests.WithLabelValues(backend, status).Inc()
}

// RecordRetry records a dispatch retry
func (m *Metrics) RecordRetry() {
	dispatchRetries.Inc()
}

// RecordDispatchOutcome records the terminal state of a dispatched segment
func (m *Metrics) RecordDispatchOutcome(outcome string) {
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordInFlight adjusts the in-flight gauge
func (m *Metrics) RecordInFlight(delta int) {
	inFlightSegments.Add(float64(delta))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes received for a stream role
func (m *Metrics) RecordAudioBytes(role string, bytes int64) {
	audioBytes.WithLabelValues(role).Add(float64(bytes))
}

// RecordRecordedBytes records bytes finalized by the recorder
func (m *Metrics) RecordRecordedBytes(bytes int64) {
	recordedBytes.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
