package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/resilience"
)

var testAudio = Request{Audio: []byte{1, 0, 2, 0}, SampleRate: 16000, Encoding: "linear16"}

func TestStubBackend(t *testing.T) {
	stub := NewStubBackend("hello")

	result, err := stub.Transcribe(context.Background(), testAudio)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Expected 'hello', got %q", result.Text)
	}

	stub.FailNext(NewError(stubName, KindNetwork, fmt.Errorf("reset")))
	if _, err := stub.Transcribe(context.Background(), testAudio); KindOf(err) != KindNetwork {
		t.Errorf("Expected queued network error, got %v", err)
	}
	if _, err := stub.Transcribe(context.Background(), testAudio); err != nil {
		t.Errorf("Expected queue to be drained, got %v", err)
	}
	if stub.Calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", stub.Calls())
	}
}

func TestGuardedBackend_OpensOnFailures(t *testing.T) {
	stub := NewStubBackend("hello")
	guarded := NewGuardedBackend(stub, 2, time.Hour, zerolog.Nop())

	stub.FailNext(
		NewError(stubName, KindNetwork, fmt.Errorf("reset")),
		NewError(stubName, KindNetwork, fmt.Errorf("reset")),
	)
	for i := 0; i < 2; i++ {
		if _, err := guarded.Transcribe(context.Background(), testAudio); err == nil {
			t.Fatalf("Expected failure %d", i+1)
		}
	}

	if guarded.Breaker().GetState() != resilience.StateOpen {
		t.Fatalf("Expected breaker open, got %s", guarded.Breaker().GetState())
	}

	_, err := guarded.Transcribe(context.Background(), testAudio)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if KindOf(err) != KindNetwork {
		t.Errorf("Expected open circuit classified as network, got %s", KindOf(err))
	}
	if stub.Calls() != 2 {
		t.Errorf("Expected backend not called while open, got %d calls", stub.Calls())
	}

	ok, err := guarded.HealthCheck(context.Background())
	if ok {
		t.Error("Expected unhealthy while breaker is open")
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "2 of 2 requests failed") {
		t.Errorf("Expected failure stats in health error, got %q", err.Error())
	}
}

func TestGuardedBackend_InvalidAudioDoesNotTrip(t *testing.T) {
	stub := NewStubBackend("hello")
	guarded := NewGuardedBackend(stub, 1, time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := guarded.Transcribe(context.Background(), Request{}); KindOf(err) != KindInvalidAudio {
			t.Fatalf("Expected invalid audio, got %v", err)
		}
	}

	if guarded.Breaker().GetState() != resilience.StateClosed {
		t.Errorf("Expected breaker closed, got %s", guarded.Breaker().GetState())
	}
	if _, err := guarded.Transcribe(context.Background(), testAudio); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
}

func TestNew_Stub(t *testing.T) {
	cfg := &config.Config{
		STTBackend:                 config.BackendStub,
		StubText:                   "canned",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}

	backend, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if backend.Name() != stubName {
		t.Errorf("Expected backend %s, got %s", stubName, backend.Name())
	}

	result, err := backend.Transcribe(context.Background(), testAudio)
	if err != nil || result.Text != "canned" {
		t.Errorf("Expected canned text, got %v, %v", result, err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), &config.Config{STTBackend: "nope"}, zerolog.Nop()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
