package audio

import (
	"sync"
	"time"
)

// Chunk is a timestamped slice of raw stream audio
type Chunk struct {
	At   time.Time
	Data []byte
}

// ClipBuffer is a thread-safe, time-bounded buffer of audio chunks for one
// stream. Chunks older than the retention window are evicted on write.
type ClipBuffer struct {
	chunks    []Chunk
	retention time.Duration
	size      int
	mu        sync.RWMutex
}

// NewClipBuffer creates a buffer that keeps roughly the given retention
func NewClipBuffer(retention time.Duration) *ClipBuffer {
	return &ClipBuffer{
		retention: retention,
	}
}

// Write appends a chunk and evicts chunks outside the retention window.
// Returns the number of bytes written.
func (cb *ClipBuffer) Write(at time.Time, data []byte) int {
	if len(data) == 0 {
		return 0
	}

	// Own a copy; sources reuse their read buffers
	buf := make([]byte, len(data))
	copy(buf, data)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.chunks = append(cb.chunks, Chunk{At: at, Data: buf})
	cb.size += len(buf)

	if cb.retention > 0 {
		cutoff := at.Add(-cb.retention)
		drop := 0
		for drop < len(cb.chunks) && cb.chunks[drop].At.Before(cutoff) {
			cb.size -= len(cb.chunks[drop].Data)
			drop++
		}
		if drop > 0 {
			cb.chunks = append(cb.chunks[:0:0], cb.chunks[drop:]...)
		}
	}

	return len(buf)
}

// Slice returns the concatenated bytes of chunks stamped within [from, to]
func (cb *ClipBuffer) Slice(from, to time.Time) []byte {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var out []byte
	for _, c := range cb.chunks {
		if c.At.Before(from) {
			continue
		}
		if c.At.After(to) {
			break
		}
		out = append(out, c.Data...)
	}
	return out
}

// Available returns the number of buffered bytes
func (cb *ClipBuffer) Available() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Clear clears the buffer
func (cb *ClipBuffer) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.chunks = nil
	cb.size = 0
}

