package audio

import "time"

// EnergyReading is one periodic energy sample from a stream
type EnergyReading struct {
	Timestamp time.Time
	Energy    float64
}

// Speaker labels the source a segment is attributed to
type Speaker string

const (
	SpeakerA       Speaker = "SourceA"
	SpeakerB       Speaker = "SourceB"
	SpeakerUnknown Speaker = "Unknown"
)

// Valid reports whether s is one of the known labels
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerA, SpeakerB, SpeakerUnknown:
		return true
	}
	return false
}

// SpeechSegment is a span of detected speech on one stream.
// It is immutable once emitted by the VAD.
type SpeechSegment struct {
	Start   time.Time
	End     time.Time
	Stream  string
	Speaker Speaker
}

// Duration returns the length of the segment
func (s SpeechSegment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
