package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

// ErrStreamDropped is returned by a Source whose stream failed mid-session.
// Returning nil (or stopping on context cancellation) means the stream ended.
var ErrStreamDropped = errors.New("stream dropped")

// Role says what a stream stands for in the session
type Role string

const (
	RoleA     Role = "a"     // First speaker source, e.g. the local microphone
	RoleB     Role = "b"     // Second speaker source, e.g. remote/system audio
	RoleMixed Role = "mixed" // Combined audio, recorded only
)

// Speaker returns the label segments from this role are attributed to
func (r Role) Speaker() audio.Speaker {
	switch r {
	case RoleA:
		return audio.SpeakerA
	case RoleB:
		return audio.SpeakerB
	}
	return audio.SpeakerUnknown
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleA || r == RoleB || r == RoleMixed
}

// Sink receives a stream's energy readings and raw audio
type Sink interface {
	OnEnergy(r audio.EnergyReading)
	OnAudio(at time.Time, data []byte)
}

// Source delivers one live stream. Run blocks until the stream ends, is
// dropped (ErrStreamDropped) or ctx is done.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, sink Sink) error

// Run calls f
func (f SourceFunc) Run(ctx context.Context, sink Sink) error {
	return f(ctx, sink)
}

// StreamSpec describes one stream to acquire at session start
type StreamSpec struct {
	ID   string
	Role Role
	Open func(ctx context.Context) (Source, error)
}

// StreamStatus is the lifecycle state of a stream within a session
type StreamStatus string

const (
	StreamAcquiring StreamStatus = "acquiring"
	StreamActive    StreamStatus = "active"
	StreamEnded     StreamStatus = "ended"
	StreamDropped   StreamStatus = "dropped"
	StreamFailed    StreamStatus = "failed"
)

func validateSpecs(specs []StreamSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one stream is required")
	}

	ids := make(map[string]struct{}, len(specs))
	roles := make(map[Role]string, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return fmt.Errorf("stream id is required")
		}
		if !ValidID(spec.ID) {
			return fmt.Errorf("%w: stream %q", ErrInvalidID, spec.ID)
		}
		if _, ok := ids[spec.ID]; ok {
			return fmt.Errorf("duplicate stream id %q", spec.ID)
		}
		ids[spec.ID] = struct{}{}

		if !spec.Role.Valid() {
			return fmt.Errorf("stream %q: unknown role %q", spec.ID, spec.Role)
		}
		if spec.Role != RoleMixed {
			if other, ok := roles[spec.Role]; ok {
				return fmt.Errorf("streams %q and %q both have role %q", other, spec.ID, spec.Role)
			}
			roles[spec.Role] = spec.ID
		}
		if spec.Open == nil {
			return fmt.Errorf("stream %q has no source", spec.ID)
		}
	}
	return nil
}
