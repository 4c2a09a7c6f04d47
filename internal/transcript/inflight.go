package transcript

import (
	"errors"
	"sync"
)

// ErrClosed is returned by InFlight.Add after Close
var ErrClosed = errors.New("in-flight tracker is closed")

// InFlight is the set of segment ids currently being transcribed.
// Idle returns a channel closed whenever the set is empty, so draining
// waits on a channel instead of polling.
type InFlight struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	idle   chan struct{}
	closed bool
}

// NewInFlight creates an empty tracker
func NewInFlight() *InFlight {
	idle := make(chan struct{})
	close(idle)
	return &InFlight{
		ids:  make(map[string]struct{}),
		idle: idle,
	}
}

// Add marks id in flight. It returns false if id is already tracked.
func (f *InFlight) Add(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, ErrClosed
	}
	if _, ok := f.ids[id]; ok {
		return false, nil
	}
	if len(f.ids) == 0 {
		f.idle = make(chan struct{})
	}
	f.ids[id] = struct{}{}
	return true, nil
}

// Done removes id from the set
func (f *InFlight) Done(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[id]; !ok {
		return
	}
	delete(f.ids, id)
	if len(f.ids) == 0 {
		close(f.idle)
	}
}

// Contains reports whether id is in flight
func (f *InFlight) Contains(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

// Len returns the number of ids in flight
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// Idle returns a channel that is closed once the set is empty
func (f *InFlight) Idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

// Close refuses further Adds. Ids already in flight are unaffected.
func (f *InFlight) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
