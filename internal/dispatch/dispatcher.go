package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/audio"
	"github.com/lexiqai/voice-transcriber/internal/observability"
	"github.com/lexiqai/voice-transcriber/internal/resilience"
	"github.com/lexiqai/voice-transcriber/internal/stt"
	"github.com/lexiqai/voice-transcriber/internal/transcript"
)

const defaultPlaceholder = "[transcribing...]"

// Config controls backend invocation for each segment
type Config struct {
	Timeout       time.Duration // Per attempt
	RetryBackoff  time.Duration // Fixed wait before the single retry
	MaxConcurrent int           // 0 = unlimited
	Placeholder   string
	SampleRate    int
	Encoding      string
	Language      string
}

// DefaultConfig returns a 30s timeout, 2s backoff, uncapped configuration
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		RetryBackoff: 2 * time.Second,
		Placeholder:  defaultPlaceholder,
		SampleRate:   16000,
		Encoding:     "linear16",
	}
}

// Job is one utterance ready for transcription
type Job struct {
	ID      string
	Segment audio.SpeechSegment
	Audio   []byte
}

// NewJob assigns a fresh identity to a detected segment
func NewJob(segment audio.SpeechSegment, payload []byte) Job {
	return Job{
		ID:      uuid.New().String(),
		Segment: segment,
		Audio:   payload,
	}
}

// Dispatcher owns the lifecycle of each transcript entry from placeholder
// to final, errored or removed.
type Dispatcher struct {
	backend   stt.Backend
	assembler *transcript.Assembler
	inflight  *transcript.InFlight
	config    Config
	logger    zerolog.Logger
	metrics   *observability.Metrics
	sem       chan struct{}
	wg        sync.WaitGroup
}

// New creates a dispatcher publishing into assembler
func New(backend stt.Backend, assembler *transcript.Assembler, inflight *transcript.InFlight, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Placeholder == "" {
		cfg.Placeholder = defaultPlaceholder
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	d := &Dispatcher{
		backend:   backend,
		assembler: assembler,
		inflight:  inflight,
		config:    cfg,
		logger:    observability.WithComponent(logger, "dispatcher"),
		metrics:   metrics,
	}
	if cfg.MaxConcurrent > 0 {
		d.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return d
}

// Dispatch publishes a placeholder for job and transcribes it in the
// background. A job whose id is already in flight is ignored and false is
// returned. It never blocks on the backend.
func (d *Dispatcher) Dispatch(job Job) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	added, err := d.inflight.Add(job.ID)
	if err != nil {
		return false, fmt.Errorf("dispatch %s: %w", job.ID, err)
	}
	if !added {
		d.logger.Debug().Str("segment_id", job.ID).Msg("Segment already in flight, ignoring duplicate")
		return false, nil
	}
	d.metrics.RecordInFlight(1)

	placeholder := d.entry(job)
	placeholder.Status = transcript.StatusPartial
	placeholder.Text = d.config.Placeholder
	if err := d.assembler.Upsert(placeholder); err != nil {
		d.release(job.ID)
		return false, fmt.Errorf("publish placeholder %s: %w", job.ID, err)
	}

	d.wg.Add(1)
	go d.run(job)
	return true, nil
}

// Wait blocks until every dispatched job has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(job Job) {
	defer d.wg.Done()
	defer d.release(job.ID)

	if d.sem != nil {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
	}

	logger := d.logger.With().
		Str("segment_id", job.ID).
		Str("stream", job.Segment.Stream).
		Str("speaker", string(job.Segment.Speaker)).
		Logger()

	var result *stt.Result

	retryConfig := resilience.SingleRetryConfig(d.config.RetryBackoff)
	retryConfig.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.metrics.RecordRetry()
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Transcription failed, retrying")
	}

	// Session shutdown does not cancel backend calls; the per-attempt
	// timeout is the only bound.
	err := resilience.Retry(context.Background(), func(ctx context.Context, attempt int) error {
		var err error
		result, err = d.transcribe(ctx, job)
		return err
	}, retryConfig, stt.IsRetryable)

	entry := d.entry(job)

	switch {
	case err != nil:
		entry.Status = transcript.StatusErrored
		entry.Text = fmt.Sprintf("[transcription failed: %s]", stt.KindOf(err))
		entry.Error = err.Error()
		if upsertErr := d.assembler.Upsert(entry); upsertErr != nil {
			logger.Error().Err(upsertErr).Msg("Failed to publish errored segment")
		}
		d.metrics.RecordDispatchOutcome("errored")
		d.metrics.RecordError(string(stt.KindOf(err)), "dispatcher")
		logger.Error().Err(err).Str("kind", string(stt.KindOf(err))).Msg("Transcription failed after retry")

	case result.Empty():
		if removeErr := d.assembler.Remove(job.ID); removeErr != nil {
			logger.Error().Err(removeErr).Msg("Failed to remove empty segment")
		}
		d.metrics.RecordDispatchOutcome("empty")
		logger.Debug().Msg("No speech in segment, removed placeholder")

	default:
		entry.Status = transcript.StatusFinal
		entry.Text = result.Text
		entry.Confidence = result.Confidence
		if upsertErr := d.assembler.Upsert(entry); upsertErr != nil {
			logger.Error().Err(upsertErr).Msg("Failed to publish final segment")
		}
		d.metrics.RecordDispatchOutcome("final")
		logger.Info().Int("chars", len(result.Text)).Msg("Segment transcribed")
	}
}

// transcribe makes one backend call bounded by the per-attempt timeout
func (d *Dispatcher) transcribe(parent context.Context, job Job) (*stt.Result, error) {
	ctx, cancel := context.WithTimeout(parent, d.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := d.backend.Transcribe(ctx, stt.Request{
		Audio:      job.Audio,
		SampleRate: d.config.SampleRate,
		Encoding:   d.config.Encoding,
		Language:   d.config.Language,
	})
	d.metrics.RecordBackendCall(d.backend.Name(), time.Since(start), err == nil)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &stt.Error{
				Kind:    stt.KindTimeout,
				Backend: d.backend.Name(),
				Err:     fmt.Errorf("no result within %s: %w", d.config.Timeout, err),
			}
		}
		return nil, stt.Classify(d.backend.Name(), err)
	}
	if result == nil {
		result = &stt.Result{}
	}
	return result, nil
}

func (d *Dispatcher) release(id string) {
	d.inflight.Done(id)
	d.metrics.RecordInFlight(-1)
}

func (d *Dispatcher) entry(job Job) transcript.Segment {
	return transcript.Segment{
		ID:      job.ID,
		Start:   job.Segment.Start,
		End:     job.Segment.End,
		Speaker: job.Segment.Speaker,
		Stream:  job.Segment.Stream,
	}
}
