package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/session"
)

var (
	// ErrNoPendingStream is returned when a socket arrives for a stream nobody is waiting on
	ErrNoPendingStream = errors.New("no pending stream")
	// ErrAcquireTimeout is returned by Open when no socket arrived in time
	ErrAcquireTimeout = errors.New("stream socket did not connect")
)

// Hub pairs stream acquisitions with the WebSocket connections that
// later arrive for them. A slot is reserved when the session is created
// so a socket that connects before the session goroutine reaches Open is
// still matched.
type Hub struct {
	mu      sync.Mutex
	pending map[string]chan *websocket.Conn
	source  SourceConfig
	logger  zerolog.Logger
}

// NewHub creates a hub whose sources use cfg
func NewHub(cfg SourceConfig, logger zerolog.Logger) *Hub {
	return &Hub{
		pending: make(map[string]chan *websocket.Conn),
		source:  cfg,
		logger:  logger,
	}
}

func slotKey(sessionID, streamID string) string {
	return sessionID + "/" + streamID
}

// Expect reserves a slot and returns the Open function for the stream spec.
// Open blocks until the socket is delivered or ctx is done.
func (h *Hub) Expect(sessionID, streamID string) func(ctx context.Context) (session.Source, error) {
	key := slotKey(sessionID, streamID)
	ch := make(chan *websocket.Conn, 1)

	h.mu.Lock()
	h.pending[key] = ch
	h.mu.Unlock()

	return func(ctx context.Context) (session.Source, error) {
		select {
		case conn := <-ch:
			return NewSource(conn, streamID, h.source, h.logger), nil
		case <-ctx.Done():
		}

		h.mu.Lock()
		if h.pending[key] == ch {
			delete(h.pending, key)
		}
		h.mu.Unlock()

		// Deliver may have won the race after the deadline fired
		select {
		case conn := <-ch:
			_ = conn.Close()
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
	}
}

// Pending reports whether a stream is waiting for its socket
func (h *Hub) Pending(sessionID, streamID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[slotKey(sessionID, streamID)]
	return ok
}

// Deliver hands conn to the waiting stream. The slot is consumed.
func (h *Hub) Deliver(sessionID, streamID string, conn *websocket.Conn) error {
	key := slotKey(sessionID, streamID)

	h.mu.Lock()
	ch, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingStream, key)
	}
	ch <- conn
	return nil
}

// Forget drops every slot reserved for a session
func (h *Hub) Forget(sessionID string) {
	prefix := sessionID + "/"

	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.pending {
		if strings.HasPrefix(key, prefix) {
			delete(h.pending, key)
		}
	}
}
