package stt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const stubName = "stub"

// StubBackend returns canned text without calling out. Used for local
// development and tests.
type StubBackend struct {
	text  string
	calls atomic.Int64

	mu   sync.Mutex
	errs []error
}

// NewStubBackend creates a stub that answers every request with text
func NewStubBackend(text string) *StubBackend {
	return &StubBackend{text: text}
}

// Name returns the backend name
func (s *StubBackend) Name() string { return stubName }

// FailNext queues errors returned by the next calls, in order
func (s *StubBackend) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Calls returns how many times Transcribe was invoked
func (s *StubBackend) Calls() int {
	return int(s.calls.Load())
}

// Transcribe returns the configured text
func (s *StubBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	s.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, NewError(stubName, KindTimeout, err)
	}
	if len(req.Audio) == 0 {
		return nil, NewError(stubName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}

	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return &Result{Text: s.text, Confidence: floatPtr(1)}, nil
}
