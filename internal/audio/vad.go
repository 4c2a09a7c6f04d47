package audio

import "time"

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	SpeechThreshold   float64       // Energy at or above this counts as speech-like
	SilenceThreshold  float64       // Energy at or below this counts as silence-like
	SpeechFrames      int           // Consecutive speech-like samples needed to start speech
	SilenceFrames     int           // Consecutive silence-like samples needed to end speech
	MinSpeechDuration time.Duration // Utterances shorter than this are discarded as noise
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		SpeechThreshold:   30,
		SilenceThreshold:  10,
		SpeechFrames:      3,  // 60ms at a 20ms cadence
		SilenceFrames:     25, // 500ms at a 20ms cadence
		MinSpeechDuration: 500 * time.Millisecond,
	}
}

// VADState is the detector state
type VADState int

const (
	StateIdle VADState = iota
	StateSpeaking
)

func (s VADState) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "idle"
}

// EventKind identifies what a processed sample produced
type EventKind int

const (
	EventNone EventKind = iota
	EventSpeechStart
	EventSpeechEnd
	EventDiscarded // speech ended but was shorter than MinSpeechDuration
)

// VADEvent is the outcome of feeding one reading to the detector
type VADEvent struct {
	Kind    EventKind
	At      time.Time
	Segment SpeechSegment // set for EventSpeechEnd and EventDiscarded
}

// VAD performs hysteresis-based voice activity detection on one stream.
// It is not safe for concurrent use; each stream owns its own detector.
type VAD struct {
	config     *VADConfig
	stream     string
	state      VADState
	speechRun  int
	silenceRun int
	start      time.Time
	last       time.Time
}

// NewVAD creates a detector for the given stream
func NewVAD(stream string, config *VADConfig) *VAD {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VAD{
		config: config,
		stream: stream,
		state:  StateIdle,
	}
}

// Process feeds one energy reading and reports any transition
func (v *VAD) Process(r EnergyReading) VADEvent {
	v.last = r.Timestamp

	switch {
	case r.Energy >= v.config.SpeechThreshold:
		v.speechRun++
		v.silenceRun = decay(v.silenceRun)
	case r.Energy <= v.config.SilenceThreshold:
		v.silenceRun++
		v.speechRun = decay(v.speechRun)
	default:
		// Middle zone: weak evidence, nudge both counters down
		if v.speechRun > 0 {
			v.speechRun--
		}
		if v.silenceRun > 0 {
			v.silenceRun--
		}
	}

	switch v.state {
	case StateIdle:
		if v.speechRun >= v.config.SpeechFrames {
			v.state = StateSpeaking
			v.start = r.Timestamp
			v.speechRun = 0
			v.silenceRun = 0
			return VADEvent{Kind: EventSpeechStart, At: r.Timestamp}
		}
	case StateSpeaking:
		if v.silenceRun >= v.config.SilenceFrames {
			return v.finish(r.Timestamp)
		}
	}

	return VADEvent{Kind: EventNone, At: r.Timestamp}
}

// Flush closes an open utterance at the given time, used when a stream
// ends normally. It returns EventNone when idle.
func (v *VAD) Flush(at time.Time) VADEvent {
	if v.state != StateSpeaking {
		return VADEvent{Kind: EventNone, At: at}
	}
	if at.IsZero() || at.Before(v.start) {
		at = v.last
	}
	return v.finish(at)
}

// Drop returns the detector to Idle without emitting anything.
// It reports whether an utterance was abandoned.
func (v *VAD) Drop() bool {
	wasSpeaking := v.state == StateSpeaking
	v.Reset()
	return wasSpeaking
}

// Reset resets the VAD detector state
func (v *VAD) Reset() {
	v.state = StateIdle
	v.speechRun = 0
	v.silenceRun = 0
	v.start = time.Time{}
}

// IsSpeaking returns whether speech is currently detected
func (v *VAD) IsSpeaking() bool {
	return v.state == StateSpeaking
}

// State returns the current detector state
func (v *VAD) State() VADState {
	return v.state
}

// Stream returns the stream this detector belongs to
func (v *VAD) Stream() string {
	return v.stream
}

func (v *VAD) finish(end time.Time) VADEvent {
	seg := SpeechSegment{
		Start:  v.start,
		End:    end,
		Stream: v.stream,
	}
	v.Reset()

	if seg.Duration() < v.config.MinSpeechDuration {
		return VADEvent{Kind: EventDiscarded, At: end, Segment: seg}
	}
	return VADEvent{Kind: EventSpeechEnd, At: end, Segment: seg}
}

// decay halves a run counter instead of zeroing it
func decay(run int) int {
	return run / 2
}
