package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIs(t *testing.T) {
	err := NewError("test", KindTimeout, fmt.Errorf("too slow"))

	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected error to match ErrTimeout")
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("Expected error not to match ErrNetwork")
	}

	wrapped := fmt.Errorf("dispatch: %w", err)
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("Expected kind %s through wrapping, got %s", KindTimeout, KindOf(wrapped))
	}
}

func TestNewErrorKeepsClassification(t *testing.T) {
	inner := NewError("test", KindQuotaExceeded, fmt.Errorf("slow down"))
	outer := NewError("test", KindUnknown, inner)

	if KindOf(outer) != KindQuotaExceeded {
		t.Errorf("Expected existing kind to be kept, got %s", KindOf(outer))
	}
	if NewError("test", KindUnknown, nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid audio", NewError("t", KindInvalidAudio, fmt.Errorf("bad")), false},
		{"network", NewError("t", KindNetwork, fmt.Errorf("reset")), true},
		{"quota", NewError("t", KindQuotaExceeded, fmt.Errorf("429")), true},
		{"timeout", NewError("t", KindTimeout, fmt.Errorf("slow")), true},
		{"unclassified", fmt.Errorf("mystery"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("request timeout after 30s"), KindTimeout},
		{fmt.Errorf("rate limit reached"), KindQuotaExceeded},
		{fmt.Errorf("unsupported media type"), KindInvalidAudio},
		{fmt.Errorf("connection refused"), KindNetwork},
		{fmt.Errorf("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(Classify("test", tt.err)); got != tt.want {
			t.Errorf("Classify(%q): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusTooManyRequests, KindQuotaExceeded},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusBadRequest, KindInvalidAudio},
		{http.StatusUnsupportedMediaType, KindInvalidAudio},
		{http.StatusBadGateway, KindNetwork},
		{http.StatusTeapot, KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(classifyHTTPStatus("test", tt.code, "")); got != tt.want {
			t.Errorf("Status %d: expected %s, got %s", tt.code, tt.want, got)
		}
	}
}

func TestClassifyGRPC(t *testing.T) {
	tests := []struct {
		code codes.Code
		want Kind
	}{
		{codes.DeadlineExceeded, KindTimeout},
		{codes.ResourceExhausted, KindQuotaExceeded},
		{codes.InvalidArgument, KindInvalidAudio},
		{codes.Unavailable, KindNetwork},
		{codes.PermissionDenied, KindUnknown},
	}

	for _, tt := range tests {
		err := classifyGRPC("test", status.Error(tt.code, "boom"))
		if got := KindOf(err); got != tt.want {
			t.Errorf("Code %s: expected %s, got %s", tt.code, tt.want, got)
		}
	}
}
