package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-transcriber/internal/resilience"
)

// Kind classifies backend failures
type Kind string

const (
	KindNetwork       Kind = "network"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindInvalidAudio  Kind = "invalid_audio"
	KindTimeout       Kind = "timeout"
	KindUnknown       Kind = "unknown"
)

// Sentinel errors for errors.Is matching against a Kind
var (
	ErrNetwork       = errors.New("network error")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrInvalidAudio  = errors.New("invalid audio")
	ErrTimeout       = errors.New("timeout")
)

// Error is a classified backend failure
type Error struct {
	Kind    Kind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) and friends match on the kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrInvalidAudio:
		return e.Kind == KindInvalidAudio
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// NewError wraps err with a kind, keeping an existing classification
func NewError(backend string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// KindOf returns the classification of err, or KindUnknown
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether a second attempt could change the outcome
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindInvalidAudio
}

// Classify derives a kind from transport errors that carry no classification
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "429"):
		return &Error{Kind: KindQuotaExceeded, Backend: backend, Err: err}
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "invalid audio") ||
		strings.Contains(msg, "corrupt"):
		return &Error{Kind: KindInvalidAudio, Backend: backend, Err: err}
	case resilience.IsRetryableNetworkError(err):
		return &Error{Kind: KindNetwork, Backend: backend, Err: err}
	}
	return &Error{Kind: KindUnknown, Backend: backend, Err: err}
}

// classifyHTTPStatus maps an HTTP status code from a backend API to a kind
func classifyHTTPStatus(backend string, code int, body string) error {
	err := fmt.Errorf("status %d: %s", code, strings.TrimSpace(body))
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return &Error{Kind: KindQuotaExceeded, Backend: backend, Err: err}
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	case code == http.StatusBadRequest || code == http.StatusUnsupportedMediaType ||
		code == http.StatusRequestEntityTooLarge || code == http.StatusUnprocessableEntity:
		return &Error{Kind: KindInvalidAudio, Backend: backend, Err: err}
	case code >= 500:
		return &Error{Kind: KindNetwork, Backend: backend, Err: err}
	}
	return &Error{Kind: KindUnknown, Backend: backend, Err: err}
}
