package transcript

import (
	"time"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

// Status is the lifecycle state of a transcript entry
type Status string

const (
	// StatusPartial is a placeholder awaiting the backend result
	StatusPartial Status = "partial"
	// StatusFinal carries the backend text
	StatusFinal Status = "final"
	// StatusErrored is kept after retries are exhausted
	StatusErrored Status = "errored"
)

// Terminal reports whether no further transitions are expected
func (s Status) Terminal() bool {
	return s == StatusFinal || s == StatusErrored
}

// Segment is one entry of the transcript. ID is assigned at dispatch time
// and is the only identity; Start/End may overlap between entries.
type Segment struct {
	ID         string        `json:"id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Speaker    audio.Speaker `json:"speaker"`
	Stream     string        `json:"stream,omitempty"`
	Text       string        `json:"text"`
	Status     Status        `json:"status"`
	Confidence *float64      `json:"confidence,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// EventKind identifies an assembler notification
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventRemove EventKind = "remove"
)

// Event is published to subscribers on every mutation
type Event struct {
	Kind    EventKind `json:"kind"`
	Segment Segment   `json:"segment"`
}
