package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/attribution"
	"github.com/lexiqai/voice-transcriber/internal/audio"
	"github.com/lexiqai/voice-transcriber/internal/dispatch"
	"github.com/lexiqai/voice-transcriber/internal/observability"
	"github.com/lexiqai/voice-transcriber/internal/recorder"
	"github.com/lexiqai/voice-transcriber/internal/stt"
	"github.com/lexiqai/voice-transcriber/internal/transcript"
)

// State is the session lifecycle state
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Warning is a non-fatal problem surfaced to the session owner
type Warning struct {
	Stream  string    `json:"stream,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Result is what a stopped session hands back
type Result struct {
	ID         string               `json:"id"`
	Transcript []transcript.Segment `json:"transcript"`
	Recordings map[string][]byte    `json:"-"`
	Warnings   []Warning            `json:"warnings"`
}

// StreamInfo describes one stream of a session
type StreamInfo struct {
	ID     string       `json:"id"`
	Role   Role         `json:"role"`
	Status StreamStatus `json:"status"`
}

// Info is a point-in-time view of a session
type Info struct {
	ID        string       `json:"id"`
	State     State        `json:"state"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	Streams   []StreamInfo `json:"streams"`
	Segments  int          `json:"segments"`
	InFlight  int          `json:"in_flight"`
	Warnings  []Warning    `json:"warnings"`
}

// Session owns every piece of mutable pipeline state for one recording:
// per-stream detectors, energy histories, the in-flight set and the transcript.
type Session struct {
	id      string
	config  Config
	backend stt.Backend
	logger  zerolog.Logger
	metrics *observability.Metrics

	attributor *attribution.Attributor
	inflight   *transcript.InFlight
	assembler  *transcript.Assembler
	dispatcher *dispatch.Dispatcher
	recorder   *recorder.Recorder

	mu        sync.RWMutex
	state     State
	startedAt time.Time
	streams   []*stream
	warnings  []Warning
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stopMu sync.Mutex
	result *Result
}

// New builds a session around backend. Nothing runs until Start.
func New(id string, cfg Config, backend stt.Backend, logger zerolog.Logger) *Session {
	logger = logger.With().
		Str("session_id", id).
		Str("correlation_id", observability.NewCorrelationID()).
		Logger()
	metrics := observability.NewSessionMetrics(id)

	attributor := attribution.New(cfg.attributionConfig())
	inflight := transcript.NewInFlight()
	assembler := transcript.NewAssembler(inflight, observability.WithComponent(logger, "assembler"))

	s := &Session{
		id:         id,
		config:     cfg,
		backend:    backend,
		logger:     logger,
		metrics:    metrics,
		attributor: attributor,
		inflight:   inflight,
		assembler:  assembler,
		dispatcher: dispatch.New(backend, assembler, inflight, cfg.Dispatch, logger, metrics),
		state:      StateCreated,
	}
	if cfg.RecorderEnabled {
		s.recorder = recorder.New(id, cfg.Recorder, logger, metrics)
	}
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Start acquires every stream in the background and begins detection.
// A stream that cannot be acquired becomes a warning; the session keeps
// running with the rest.
func (s *Session) Start(ctx context.Context, specs []StreamSpec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("session %s already %s", s.id, s.state)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.state = StateRunning
	s.startedAt = time.Now()

	if s.recorder != nil {
		s.recorder.Start()
	}

	for _, spec := range specs {
		st := s.newStream(spec)
		s.streams = append(s.streams, st)

		s.wg.Add(1)
		go s.runStream(runCtx, st)
	}

	s.metrics.RecordSessionStart()
	s.logger.Info().
		Int("streams", len(specs)).
		Str("backend", s.backend.Name()).
		Msg("Session started")
	return nil
}

// Stop halts all streams, waits for in-flight transcriptions to finish
// and returns the frozen transcript. Calls after a successful Stop return
// the same result. If ctx ends before in-flight work drains, the error is
// returned and Stop may be called again.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.result != nil {
		return s.result, nil
	}

	s.mu.Lock()
	started := !s.startedAt.IsZero()
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	var recordings map[string][]byte
	if s.recorder != nil {
		recordings = s.recorder.Stop()
	}

	segments, err := s.assembler.DrainAndSnapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Int("in_flight", s.inflight.Len()).Msg("Session stop interrupted before drain")
		return nil, fmt.Errorf("drain session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.state = StateStopped
	warnings := append([]Warning(nil), s.warnings...)
	s.mu.Unlock()

	if started {
		s.metrics.RecordSessionEnd()
	}

	s.result = &Result{
		ID:         s.id,
		Transcript: segments,
		Recordings: recordings,
		Warnings:   warnings,
	}

	s.logger.Info().
		Int("segments", len(segments)).
		Int("warnings", len(warnings)).
		Msg("Session stopped")
	return s.result, nil
}

// Snapshot returns the current ordered transcript
func (s *Session) Snapshot() []transcript.Segment {
	return s.assembler.Snapshot()
}

// Subscribe streams transcript events until the session is drained
func (s *Session) Subscribe() (<-chan transcript.Event, func()) {
	return s.assembler.Subscribe()
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Warnings returns a copy of the session warnings
func (s *Session) Warnings() []Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Warning(nil), s.warnings...)
}

// Info returns a point-in-time view of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		ID:        s.id,
		State:     s.state,
		StartedAt: s.startedAt,
		Warnings:  append([]Warning{}, s.warnings...),
	}
	streams := append([]*stream(nil), s.streams...)
	s.mu.RUnlock()

	for _, st := range streams {
		info.Streams = append(info.Streams, StreamInfo{ID: st.spec.ID, Role: st.spec.Role, Status: st.getStatus()})
	}
	info.Segments = len(s.assembler.Snapshot())
	info.InFlight = s.inflight.Len()
	return info
}

func (s *Session) warn(stream, message string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, Warning{Stream: stream, Message: message, At: time.Now()})
	s.mu.Unlock()

	s.logger.Warn().Str("stream", stream).Msg(message)
}

func (s *Session) runStream(ctx context.Context, st *stream) {
	defer s.wg.Done()

	logger := s.logger.With().Str("stream", st.spec.ID).Str("role", string(st.spec.Role)).Logger()

	openCtx := ctx
	if s.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, s.config.AcquireTimeout)
		defer cancel()
	}

	src, err := st.spec.Open(openCtx)
	if err != nil {
		st.setStatus(StreamFailed)
		s.metrics.RecordStreamEvent("acquire_failed")
		s.metrics.RecordError("acquisition", "session")
		s.warn(st.spec.ID, fmt.Sprintf("stream %s could not be acquired: %v", st.spec.ID, err))
		return
	}

	st.setStatus(StreamActive)
	s.metrics.RecordStreamEvent("started")
	logger.Info().Msg("Stream acquired")

	err = src.Run(ctx, st)

	switch {
	case errors.Is(err, ErrStreamDropped) || (err != nil && ctx.Err() == nil):
		st.drop()
		s.attributor.Forget(st.spec.ID)
		st.setStatus(StreamDropped)
		s.metrics.RecordStreamEvent("dropped")
		s.warn(st.spec.ID, fmt.Sprintf("stream %s dropped: %v", st.spec.ID, err))

	default:
		st.flush()
		st.setStatus(StreamEnded)
		s.metrics.RecordStreamEvent("ended")
		logger.Info().Msg("Stream ended")
	}
}

// emit attributes a finished utterance and hands it to the dispatcher
func (s *Session) emit(st *stream, seg audio.SpeechSegment) {
	// The VAD ends an utterance after a run of silence; the last moment
	// speech was heard is one hangover earlier.
	at := seg.End.Add(-s.config.silenceHangover())
	if at.Before(seg.Start) {
		at = seg.Start
	}
	seg.Speaker = s.attributor.Attribute(at)
	s.metrics.RecordAttribution(string(seg.Speaker))
	s.metrics.RecordSegment(true, seg.Duration())

	payload := st.clip.Slice(seg.Start.Add(-s.config.Preroll), seg.End)
	if len(payload) == 0 {
		s.logger.Warn().
			Str("stream", seg.Stream).
			Int("buffered_bytes", st.clip.Available()).
			Msg("No buffered audio for segment")
	}

	job := dispatch.NewJob(seg, payload)
	if _, err := s.dispatcher.Dispatch(job); err != nil {
		s.logger.Error().Err(err).Str("segment_id", job.ID).Msg("Failed to dispatch segment")
		s.metrics.RecordError("dispatch", "session")
		return
	}

	s.logger.Debug().
		Str("segment_id", job.ID).
		Str("speaker", string(seg.Speaker)).
		Dur("active", s.attributor.ActiveDuration(st.spec.ID, at)).
		Dur("duration", seg.Duration()).
		Msg("Segment dispatched")
}
