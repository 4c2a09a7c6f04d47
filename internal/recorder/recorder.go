package recorder

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/observability"
)

// Config controls slicing and optional on-disk output
type Config struct {
	SliceInterval time.Duration
	Dir           string // Empty keeps recordings in memory only
}

// Recorder archives raw chunks per stream, independent of transcription.
// Pending bytes are cut into a slice every SliceInterval; Stop joins the
// slices into one blob per stream.
type Recorder struct {
	sessionID string
	config    Config
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	pending map[string]*bytes.Buffer
	slices  map[string][][]byte
	stopped bool
	result  map[string][]byte

	started bool
	done    chan struct{}
	exited  chan struct{}
}

// New creates a recorder for a session
func New(sessionID string, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Recorder {
	if cfg.SliceInterval <= 0 {
		cfg.SliceInterval = time.Second
	}
	return &Recorder{
		sessionID: sessionID,
		config:    cfg,
		logger:    observability.WithComponent(logger, "recorder"),
		metrics:   metrics,
		pending:   make(map[string]*bytes.Buffer),
		slices:    make(map[string][][]byte),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// Start runs the slicing ticker until Stop
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.loop()
}

func (r *Recorder) loop() {
	defer close(r.exited)

	ticker := time.NewTicker(r.config.SliceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			r.cut()
			r.mu.Unlock()
		case <-r.done:
			return
		}
	}
}

// Write appends a chunk for stream. Writes after Stop are ignored.
func (r *Recorder) Write(stream string, data []byte) {
	if len(data) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	buf, ok := r.pending[stream]
	if !ok {
		buf = &bytes.Buffer{}
		r.pending[stream] = buf
	}
	buf.Write(data)
}

// sliceCount returns the number of completed slices for stream
func (r *Recorder) sliceCount(stream string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slices[stream])
}

// Streams returns the streams seen so far, sorted
func (r *Recorder) Streams() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.pending)+len(r.slices))
	for s := range r.pending {
		seen[s] = struct{}{}
	}
	for s := range r.slices {
		seen[s] = struct{}{}
	}
	streams := make([]string, 0, len(seen))
	for s := range seen {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	return streams
}

// Stop halts slicing and finalizes one blob per stream. When a directory
// is configured the blobs are also written to <dir>/<session>/<stream>.raw;
// write failures are logged and never returned. Repeated calls return the
// same blobs.
func (r *Recorder) Stop() map[string][]byte {
	r.mu.Lock()
	if r.stopped {
		result := r.result
		r.mu.Unlock()
		return result
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.done)
	if started {
		<-r.exited
	}

	r.mu.Lock()
	r.cut()
	result := make(map[string][]byte, len(r.slices))
	var total int64
	for stream, slices := range r.slices {
		blob := bytes.Join(slices, nil)
		result[stream] = blob
		total += int64(len(blob))
	}
	r.result = result
	r.mu.Unlock()

	r.metrics.RecordRecordedBytes(total)
	r.logger.Info().
		Int("streams", len(result)).
		Int64("bytes", total).
		Msg("Recording finalized")

	if r.config.Dir != "" {
		r.persist(result)
	}
	return result
}

// cut must be called with r.mu held
func (r *Recorder) cut() {
	for stream, buf := range r.pending {
		if buf.Len() == 0 {
			continue
		}
		slice := make([]byte, buf.Len())
		copy(slice, buf.Bytes())
		r.slices[stream] = append(r.slices[stream], slice)
		buf.Reset()
	}
}

func (r *Recorder) persist(blobs map[string][]byte) {
	name, ok := fileName(r.sessionID)
	if !ok {
		r.logger.Error().Str("session_id", r.sessionID).Msg("Refusing to persist recording under unsafe session id")
		r.metrics.RecordError("recording_write", "recorder")
		return
	}
	dir := filepath.Join(r.config.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Error().Err(err).Str("dir", dir).Msg("Failed to create recording directory")
		r.metrics.RecordError("recording_write", "recorder")
		return
	}

	for stream, blob := range blobs {
		name, ok := fileName(stream)
		if !ok {
			r.logger.Error().Str("stream", stream).Msg("Refusing to persist recording under unsafe stream id")
			r.metrics.RecordError("recording_write", "recorder")
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s.raw", name))
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			r.logger.Error().Err(err).Str("path", path).Msg("Failed to write recording")
			r.metrics.RecordError("recording_write", "recorder")
			continue
		}
		r.logger.Debug().Str("path", path).Int("bytes", len(blob)).Msg("Recording written")
	}
}

// fileName reduces id to a single path element that stays inside its parent
func fileName(id string) (string, bool) {
	name := filepath.Base(filepath.Clean(id))
	if name != id || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", false
	}
	return name, true
}
