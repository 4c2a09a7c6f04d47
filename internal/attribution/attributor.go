// Package attribution resolves which input stream was speaking at a given
// moment from recent per-stream energy histories. It is an energy-overlap
// heuristic, not a voiceprint model: it answers "which device was loud",
// not "whose voice is this".
package attribution

import (
	"sort"
	"sync"
	"time"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

// Config holds attribution thresholds
type Config struct {
	Window          time.Duration // Trailing window inspected by Attribute
	EnergyThreshold float64       // Readings above this count as active
	OverlapDuration time.Duration // Active duration a stream needs within the window
	RunGap          time.Duration // Readings closer than this belong to the same run
	DefaultSpeaker  audio.Speaker // Returned when no stream is clearly active

	// Retention is how far behind its newest reading a stream's history is
	// kept. It never drops below twice the window; callers that query
	// further back than that must raise it.
	Retention time.Duration
}

// DefaultConfig returns the default attribution configuration
func DefaultConfig() Config {
	return Config{
		Window:          500 * time.Millisecond,
		EnergyThreshold: 30,
		OverlapDuration: 200 * time.Millisecond,
		RunGap:          100 * time.Millisecond,
		DefaultSpeaker:  audio.SpeakerA,
	}
}

type history struct {
	speaker  audio.Speaker
	readings []audio.EnergyReading
}

// Attributor keeps a bounded energy history for every registered stream.
// It is safe for concurrent use.
type Attributor struct {
	config  Config
	mu      sync.Mutex
	streams map[string]*history
}

// New creates an attributor
func New(config Config) *Attributor {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.RunGap <= 0 {
		config.RunGap = def.RunGap
	}
	if config.DefaultSpeaker == "" {
		config.DefaultSpeaker = def.DefaultSpeaker
	}
	if config.Retention < 2*config.Window {
		config.Retention = 2 * config.Window
	}
	return &Attributor{
		config:  config,
		streams: make(map[string]*history),
	}
}

// Register associates a stream with the speaker label it stands for
func (a *Attributor) Register(stream string, speaker audio.Speaker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.streams[stream]; ok {
		h.speaker = speaker
		return
	}
	a.streams[stream] = &history{speaker: speaker}
}

// Forget removes a stream so later queries fall back to the remaining ones
func (a *Attributor) Forget(stream string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streams, stream)
}

// Add appends a reading for a registered stream and prunes readings older
// than the retention. Readings for unknown streams are ignored.
func (a *Attributor) Add(stream string, r audio.EnergyReading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.streams[stream]
	if !ok {
		return
	}

	// Sources deliver in order; tolerate the occasional late reading
	n := len(h.readings)
	if n > 0 && r.Timestamp.Before(h.readings[n-1].Timestamp) {
		i := sort.Search(n, func(i int) bool { return h.readings[i].Timestamp.After(r.Timestamp) })
		h.readings = append(h.readings, audio.EnergyReading{})
		copy(h.readings[i+1:], h.readings[i:])
		h.readings[i] = r
	} else {
		h.readings = append(h.readings, r)
	}

	newest := h.readings[len(h.readings)-1].Timestamp
	cutoff := newest.Add(-a.config.Retention)
	drop := 0
	for drop < len(h.readings) && h.readings[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.readings = append(h.readings[:0], h.readings[drop:]...)
	}
}

// Attribute returns the speaker active around the given timestamp
func (a *Attributor) Attribute(at time.Time) audio.Speaker {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := at.Add(-a.config.Window)

	var active []audio.Speaker
	for _, h := range a.streams {
		if a.activeDuration(h.readings, from, at) > a.config.OverlapDuration {
			active = append(active, h.speaker)
		}
	}

	switch len(active) {
	case 0:
		return a.config.DefaultSpeaker
	case 1:
		return active[0]
	default:
		return audio.SpeakerUnknown
	}
}

// ActiveDuration reports how long a stream was above the energy threshold
// within the window ending at the given time.
func (a *Attributor) ActiveDuration(stream string, at time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.streams[stream]
	if !ok {
		return 0
	}
	return a.activeDuration(h.readings, at.Add(-a.config.Window), at)
}

// activeDuration groups above-threshold readings in [from, to] into runs
// and sums the span of runs that hold at least two readings.
func (a *Attributor) activeDuration(readings []audio.EnergyReading, from, to time.Time) time.Duration {
	var (
		total    time.Duration
		runStart time.Time
		runLast  time.Time
		runCount int
	)

	closeRun := func() {
		if runCount >= 2 {
			total += runLast.Sub(runStart)
		}
		runCount = 0
	}

	for _, r := range readings {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		if r.Energy <= a.config.EnergyThreshold {
			continue
		}
		if runCount > 0 && r.Timestamp.Sub(runLast) >= a.config.RunGap {
			closeRun()
		}
		if runCount == 0 {
			runStart = r.Timestamp
		}
		runLast = r.Timestamp
		runCount++
	}
	closeRun()

	return total
}
