package transcript

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// ErrFrozen is returned when mutating a drained transcript
var ErrFrozen = errors.New("transcript is frozen")

const subscriberBuffer = 64

// Assembler holds the authoritative transcript of a session, sorted by start.
// Mutations are published to subscribers.
type Assembler struct {
	inflight *InFlight
	logger   zerolog.Logger

	mu          sync.Mutex
	segments    []Segment
	frozen      bool
	subscribers map[int]chan Event
	nextSubID   int
}

// NewAssembler creates an empty transcript drained against inflight
func NewAssembler(inflight *InFlight, logger zerolog.Logger) *Assembler {
	return &Assembler{
		inflight:    inflight,
		logger:      logger,
		subscribers: make(map[int]chan Event),
	}
}

// Upsert replaces the entry with the same id or appends it, keeping start order
func (a *Assembler) Upsert(seg Segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		return ErrFrozen
	}

	if i := a.indexOf(seg.ID); i >= 0 {
		a.segments[i] = seg
	} else {
		a.segments = append(a.segments, seg)
	}
	slices.SortStableFunc(a.segments, func(x, y Segment) int {
		return x.Start.Compare(y.Start)
	})

	a.publish(Event{Kind: EventUpsert, Segment: seg})
	return nil
}

// Remove drops the entry with id. Removing an unknown id is a no-op.
func (a *Assembler) Remove(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen {
		return ErrFrozen
	}

	i := a.indexOf(id)
	if i < 0 {
		return nil
	}
	removed := a.segments[i]
	a.segments = slices.Delete(a.segments, i, i+1)

	a.publish(Event{Kind: EventRemove, Segment: removed})
	return nil
}

// Snapshot returns a copy of the current ordered transcript
func (a *Assembler) Snapshot() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.segments)
}

// Get returns the entry with id
func (a *Assembler) Get(id string) (Segment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexOf(id); i >= 0 {
		return a.segments[i], true
	}
	return Segment{}, false
}

// Frozen reports whether the transcript was drained
func (a *Assembler) Frozen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frozen
}

// DrainAndSnapshot stops accepting new in-flight work, waits until the
// in-flight set is empty, then freezes and returns the transcript.
// Later calls return the same frozen transcript. If ctx ends first the
// transcript is not frozen and ctx.Err() is returned with the current view.
func (a *Assembler) DrainAndSnapshot(ctx context.Context) ([]Segment, error) {
	if a.Frozen() {
		return a.Snapshot(), nil
	}

	a.inflight.Close()

	select {
	case <-a.inflight.Idle():
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.frozen {
		a.frozen = true
		for id, ch := range a.subscribers {
			close(ch)
			delete(a.subscribers, id)
		}
	}
	return slices.Clone(a.segments), nil
}

// Subscribe returns a channel of transcript events and a cancel func.
// Events are dropped for subscribers that fall behind. The channel is
// closed when the transcript freezes or cancel is called.
func (a *Assembler) Subscribe() (<-chan Event, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if a.frozen {
		close(ch)
		return ch, func() {}
	}

	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if sub, ok := a.subscribers[id]; ok {
			close(sub)
			delete(a.subscribers, id)
		}
	}
}

// publish must be called with a.mu held
func (a *Assembler) publish(ev Event) {
	for id, ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
			a.logger.Warn().
				Int("subscriber", id).
				Str("segment_id", ev.Segment.ID).
				Str("kind", string(ev.Kind)).
				Msg("Subscriber is slow, dropping transcript event")
		}
	}
}

// indexOf must be called with a.mu held
func (a *Assembler) indexOf(id string) int {
	return slices.IndexFunc(a.segments, func(s Segment) bool { return s.ID == id })
}
