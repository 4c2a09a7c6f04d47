package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/audio"
	"github.com/lexiqai/voice-transcriber/internal/recorder"
	"github.com/lexiqai/voice-transcriber/internal/stt"
	"github.com/lexiqai/voice-transcriber/internal/transcript"
)

const frame = 20 * time.Millisecond

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// script feeds energies at a fixed cadence with a two-byte audio chunk per frame
type script struct {
	energies []float64
	start    time.Time
	after    <-chan struct{} // wait for this before feeding
	done     chan struct{}   // closed once everything was fed
	err      error           // returned after feeding
}

func (sc *script) Run(ctx context.Context, sink Sink) error {
	if sc.after != nil {
		<-sc.after
	}
	for i, e := range sc.energies {
		at := sc.start.Add(time.Duration(i) * frame)
		sink.OnAudio(at, []byte{byte(i), 0})
		sink.OnEnergy(audio.EnergyReading{Timestamp: at, Energy: e})
	}
	if sc.done != nil {
		close(sc.done)
	}
	return sc.err
}

func open(src Source) func(context.Context) (Source, error) {
	return func(context.Context) (Source, error) { return src, nil }
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.VAD = audio.VADConfig{
		SpeechThreshold:   30,
		SilenceThreshold:  10,
		SpeechFrames:      2,
		SilenceFrames:     3,
		MinSpeechDuration: 50 * time.Millisecond,
	}
	cfg.FrameInterval = frame
	cfg.Dispatch.RetryBackoff = 10 * time.Millisecond
	cfg.Dispatch.Timeout = time.Second
	cfg.Preroll = 0
	cfg.Recorder = recorder.Config{SliceInterval: time.Hour}
	cfg.AcquireTimeout = time.Second
	return cfg
}

func stop(t *testing.T, s *Session) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return result
}

// waitFor polls cond for up to a second; streams run on their own goroutines
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_EndToEnd(t *testing.T) {
	backend := stt.NewStubBackend("hello")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	mic := &script{energies: []float64{5, 5, 42, 45, 40, 3, 2, 1, 1, 1}, start: epoch}
	if err := s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result := stop(t, s)

	if len(result.Transcript) != 1 {
		t.Fatalf("Expected exactly 1 segment, got %d: %+v", len(result.Transcript), result.Transcript)
	}
	seg := result.Transcript[0]

	wantStart := epoch.Add(3 * frame)
	wantEnd := epoch.Add(7 * frame)
	if !seg.Start.Equal(wantStart) || !seg.End.Equal(wantEnd) {
		t.Errorf("Expected segment %v-%v, got %v-%v", wantStart, wantEnd, seg.Start, seg.End)
	}
	if seg.Status != transcript.StatusFinal || seg.Text != "hello" {
		t.Errorf("Expected final 'hello', got %s %q", seg.Status, seg.Text)
	}
	if seg.Speaker != audio.SpeakerA {
		t.Errorf("Expected default speaker %s, got %s", audio.SpeakerA, seg.Speaker)
	}
	if backend.Calls() != 1 {
		t.Errorf("Expected 1 backend call, got %d", backend.Calls())
	}
	if got := result.Recordings["mic"]; len(got) != 20 {
		t.Errorf("Expected 20 recorded bytes, got %d", len(got))
	}
}

func TestSession_ShortUtteranceNotDispatched(t *testing.T) {
	backend := stt.NewStubBackend("hello")
	cfg := testSessionConfig()
	cfg.VAD.MinSpeechDuration = 500 * time.Millisecond
	s := New("s1", cfg, backend, zerolog.Nop())

	mic := &script{energies: []float64{5, 42, 45, 40, 3, 2, 1, 1}, start: epoch}
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}})
	result := stop(t, s)

	if len(result.Transcript) != 0 {
		t.Errorf("Expected no segments, got %+v", result.Transcript)
	}
	if backend.Calls() != 0 {
		t.Errorf("Expected no backend calls, got %d", backend.Calls())
	}
}

func TestSession_AttributesSingleActiveStream(t *testing.T) {
	backend := stt.NewStubBackend("hi")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	micDone := make(chan struct{})
	mic := &script{energies: repeat(2, 40), start: epoch, done: micDone}
	system := &script{
		energies: concat(repeat(2, 2), repeat(50, 30), repeat(1, 5)),
		start:    epoch,
		after:    micDone,
	}

	_ = s.Start(context.Background(), []StreamSpec{
		{ID: "mic", Role: RoleA, Open: open(mic)},
		{ID: "system", Role: RoleB, Open: open(system)},
	})
	result := stop(t, s)

	if len(result.Transcript) != 1 {
		t.Fatalf("Expected 1 segment, got %+v", result.Transcript)
	}
	if got := result.Transcript[0].Speaker; got != audio.SpeakerB {
		t.Errorf("Expected %s for the only loud stream, got %s", audio.SpeakerB, got)
	}
	if got := result.Transcript[0].Stream; got != "system" {
		t.Errorf("Expected stream 'system', got %q", got)
	}
}

func TestSession_AttributesAcrossLongSilenceHangover(t *testing.T) {
	backend := stt.NewStubBackend("hi")
	cfg := testSessionConfig()
	cfg.VAD.SilenceFrames = 40
	s := New("s1", cfg, backend, zerolog.Nop())

	micDone := make(chan struct{})
	mic := &script{energies: repeat(2, 110), start: epoch, done: micDone}
	system := &script{
		energies: concat(repeat(2, 2), repeat(50, 60), repeat(1, 45)),
		start:    epoch,
		after:    micDone,
	}

	_ = s.Start(context.Background(), []StreamSpec{
		{ID: "mic", Role: RoleA, Open: open(mic)},
		{ID: "system", Role: RoleB, Open: open(system)},
	})
	result := stop(t, s)

	if len(result.Transcript) != 1 {
		t.Fatalf("Expected 1 segment, got %+v", result.Transcript)
	}
	seg := result.Transcript[0]
	if seg.Stream != "system" {
		t.Errorf("Expected stream 'system', got %q", seg.Stream)
	}
	if seg.Speaker != audio.SpeakerB {
		t.Errorf("Expected %s for the only loud stream, got %s", audio.SpeakerB, seg.Speaker)
	}
}

func TestSession_OverlapIsUnknown(t *testing.T) {
	backend := stt.NewStubBackend("both")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	micDone := make(chan struct{})
	loud := concat(repeat(2, 2), repeat(50, 30), repeat(1, 5))
	mic := &script{energies: loud, start: epoch, done: micDone}
	system := &script{energies: loud, start: epoch, after: micDone}

	_ = s.Start(context.Background(), []StreamSpec{
		{ID: "mic", Role: RoleA, Open: open(mic)},
		{ID: "system", Role: RoleB, Open: open(system)},
	})
	result := stop(t, s)

	var systemSeg *transcript.Segment
	for i := range result.Transcript {
		if result.Transcript[i].Stream == "system" {
			systemSeg = &result.Transcript[i]
		}
	}
	if systemSeg == nil {
		t.Fatalf("Expected a segment from the system stream, got %+v", result.Transcript)
	}
	if systemSeg.Speaker != audio.SpeakerUnknown {
		t.Errorf("Expected %s under overlap, got %s", audio.SpeakerUnknown, systemSeg.Speaker)
	}
}

func TestSession_StreamEndedFlushesOpenUtterance(t *testing.T) {
	backend := stt.NewStubBackend("cut short")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	mic := &script{energies: concat(repeat(2, 2), repeat(50, 10)), start: epoch}
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}})
	result := stop(t, s)

	if len(result.Transcript) != 1 {
		t.Fatalf("Expected flushed segment, got %+v", result.Transcript)
	}
	if got := s.Info().Streams[0].Status; got != StreamEnded {
		t.Errorf("Expected stream ended, got %s", got)
	}
}

func TestSession_StreamDroppedAbandonsUtterance(t *testing.T) {
	backend := stt.NewStubBackend("never")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	mic := &script{
		energies: concat(repeat(2, 2), repeat(50, 10)),
		start:    epoch,
		err:      fmt.Errorf("socket reset: %w", ErrStreamDropped),
	}
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}})

	waitFor(t, func() bool { return s.Info().Streams[0].Status == StreamDropped })
	result := stop(t, s)

	if len(result.Transcript) != 0 {
		t.Errorf("Expected no segment from a dropped stream, got %+v", result.Transcript)
	}
	if backend.Calls() != 0 {
		t.Errorf("Expected no backend calls, got %d", backend.Calls())
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0].Message, "dropped") {
		t.Errorf("Expected a drop warning, got %+v", result.Warnings)
	}
}

func TestSession_AcquisitionFailureIsWarning(t *testing.T) {
	backend := stt.NewStubBackend("still here")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	mic := &script{energies: []float64{5, 5, 42, 45, 40, 3, 2, 1, 1, 1}, start: epoch}
	err := s.Start(context.Background(), []StreamSpec{
		{ID: "mic", Role: RoleA, Open: open(mic)},
		{ID: "system", Role: RoleB, Open: func(context.Context) (Source, error) {
			return nil, errors.New("permission denied")
		}},
	})
	if err != nil {
		t.Fatalf("Expected session to start despite one failing stream, got %v", err)
	}

	result := stop(t, s)

	if len(result.Transcript) != 1 {
		t.Errorf("Expected the healthy stream to be transcribed, got %+v", result.Transcript)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Stream != "system" {
		t.Fatalf("Expected one warning for 'system', got %+v", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0].Message, "permission denied") {
		t.Errorf("Expected acquisition error in warning, got %q", result.Warnings[0].Message)
	}
}

func TestSession_MixedStreamRecordedOnly(t *testing.T) {
	backend := stt.NewStubBackend("x")
	s := New("s1", testSessionConfig(), backend, zerolog.Nop())

	mixed := &script{energies: concat(repeat(50, 40), repeat(1, 5)), start: epoch}
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mix", Role: RoleMixed, Open: open(mixed)}})
	result := stop(t, s)

	if len(result.Transcript) != 0 {
		t.Errorf("Expected no transcription for the mixed stream, got %+v", result.Transcript)
	}
	if len(result.Recordings["mix"]) != 90 {
		t.Errorf("Expected 90 recorded bytes, got %d", len(result.Recordings["mix"]))
	}
}

func TestSession_StopIdempotent(t *testing.T) {
	s := New("s1", testSessionConfig(), stt.NewStubBackend("hello"), zerolog.Nop())

	mic := &script{energies: []float64{5, 5, 42, 45, 40, 3, 2, 1, 1, 1}, start: epoch}
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}})

	first := stop(t, s)
	second := stop(t, s)

	if first != second {
		t.Error("Expected the same result from repeated Stop calls")
	}
	if s.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", s.State())
	}
	if err := s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(mic)}}); err == nil {
		t.Error("Expected restart of a stopped session to fail")
	}
}

func TestSession_StopCancelsBlockingSources(t *testing.T) {
	s := New("s1", testSessionConfig(), stt.NewStubBackend("x"), zerolog.Nop())

	blocking := SourceFunc(func(ctx context.Context, sink Sink) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = s.Start(context.Background(), []StreamSpec{{ID: "mic", Role: RoleA, Open: open(blocking)}})

	waitFor(t, func() bool { return s.Info().Streams[0].Status == StreamActive })
	stop(t, s)

	if got := s.Info().Streams[0].Status; got != StreamEnded {
		t.Errorf("Expected cancellation to count as ended, got %s", got)
	}
	if len(s.Warnings()) != 0 {
		t.Errorf("Expected no warnings, got %+v", s.Warnings())
	}
}

func TestSession_RejectsInvalidSpecs(t *testing.T) {
	src := open(&script{})
	tests := []struct {
		name  string
		specs []StreamSpec
	}{
		{"empty", nil},
		{"missing id", []StreamSpec{{Role: RoleA, Open: src}}},
		{"duplicate id", []StreamSpec{{ID: "x", Role: RoleA, Open: src}, {ID: "x", Role: RoleB, Open: src}}},
		{"duplicate role", []StreamSpec{{ID: "x", Role: RoleA, Open: src}, {ID: "y", Role: RoleA, Open: src}}},
		{"unknown role", []StreamSpec{{ID: "x", Role: "c", Open: src}}},
		{"no source", []StreamSpec{{ID: "x", Role: RoleA}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("s1", testSessionConfig(), stt.NewStubBackend("x"), zerolog.Nop())
			if err := s.Start(context.Background(), tt.specs); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
