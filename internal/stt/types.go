package stt

import (
	"context"
	"strings"
)

// Request is one utterance to transcribe
type Request struct {
	// Audio is the raw segment payload
	Audio []byte

	// SampleRate of Audio in Hz
	SampleRate int

	// Encoding hints the payload format (linear16, opus, webm, wav, ...)
	Encoding string

	// Language hints the spoken language (BCP-47 or backend short code)
	Language string
}

// Result is a backend transcription result.
// An empty Text means the backend heard no speech.
type Result struct {
	Text string

	// Confidence is nil when the backend does not report one
	Confidence *float64
}

// Empty reports whether the result carries no text
func (r *Result) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// Backend is the transcription capability the pipeline is parametrized by.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Transcribe converts audio to text. Errors should be classified with
	// *Error so callers can decide whether to retry.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// HealthChecker is implemented by backends that can probe their dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
}

// Closer is implemented by backends holding connections
type Closer interface {
	Close() error
}

func floatPtr(f float64) *float64 {
	return &f
}
