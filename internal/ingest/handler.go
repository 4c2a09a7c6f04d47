package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/session"
	"github.com/lexiqai/voice-transcriber/internal/transcript"
)

var upgrader = websocket.Upgrader{
	// Clients are local capture agents and the desktop shell, not browsers on other origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamRequest names one stream of a new session
type StreamRequest struct {
	ID   string       `json:"id"`
	Role session.Role `json:"role"`
}

// CreateRequest is the body of POST /sessions
type CreateRequest struct {
	ID      string          `json:"id,omitempty"`
	Streams []StreamRequest `json:"streams"`
}

// CreateResponse tells the client where to connect each stream
type CreateResponse struct {
	Session    session.Info      `json:"session"`
	StreamURLs map[string]string `json:"stream_urls"`
	EventsURL  string            `json:"events_url"`
}

// SessionResponse is a session with its current transcript
type SessionResponse struct {
	Session    session.Info         `json:"session"`
	Transcript []transcript.Segment `json:"transcript"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves the session REST endpoints and the stream and event sockets
type API struct {
	manager     *session.Manager
	hub         *Hub
	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewAPI creates the HTTP surface over manager
func NewAPI(manager *session.Manager, hub *Hub, stopTimeout time.Duration, logger zerolog.Logger) *API {
	return &API{
		manager:     manager,
		hub:         hub,
		stopTimeout: stopTimeout,
		logger:      logger,
	}
}

// Register mounts the routes on mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", a.createSession)
	mux.HandleFunc("GET /sessions", a.listSessions)
	mux.HandleFunc("GET /sessions/{id}", a.getSession)
	mux.HandleFunc("DELETE /sessions/{id}", a.removeSession)
	mux.HandleFunc("POST /sessions/{id}/stop", a.stopSession)
	mux.HandleFunc("GET /sessions/{id}/transcript.srt", a.transcriptSRT)
	mux.HandleFunc("GET /sessions/{id}/transcript.json", a.transcriptJSON)
	mux.HandleFunc("GET /sessions/{id}/streams/{stream}", a.streamSocket)
	mux.HandleFunc("GET /sessions/{id}/events", a.eventSocket)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id := req.ID
	if id == "" {
		id = session.NewID()
	}

	specs := make([]session.StreamSpec, 0, len(req.Streams))
	for _, sr := range req.Streams {
		spec := session.StreamSpec{ID: sr.ID, Role: sr.Role}
		if sr.ID != "" {
			spec.Open = a.hub.Expect(id, sr.ID)
		}
		specs = append(specs, spec)
	}

	s, err := a.manager.Create(r.Context(), id, specs)
	if err != nil {
		a.hub.Forget(id)
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrSessionExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	resp := CreateResponse{
		Session:    s.Info(),
		StreamURLs: make(map[string]string, len(specs)),
		EventsURL:  fmt.Sprintf("/sessions/%s/events", id),
	}
	for _, spec := range specs {
		resp.StreamURLs[spec.ID] = fmt.Sprintf("/sessions/%s/streams/%s", id, spec.ID)
	}

	a.logger.Info().Str("session_id", id).Int("streams", len(specs)).Msg("Session created")
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.manager.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: s.Info(), Transcript: s.Snapshot()})
}

func (a *API) removeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.Remove(id); err != nil {
		writeError(w, statusFor(err, http.StatusConflict), err)
		return
	}
	a.hub.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) stopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ctx := r.Context()
	if a.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.stopTimeout)
		defer cancel()
	}

	result, err := a.manager.Stop(ctx, id)
	if err != nil {
		writeError(w, statusFor(err, http.StatusGatewayTimeout), err)
		return
	}
	a.hub.Forget(id)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) transcriptSRT(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.ID()+".srt"))
	if err := transcript.WriteSRT(w, transcript.Records(s.Snapshot())); err != nil {
		a.logger.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to write SRT")
	}
}

func (a *API) transcriptJSON(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := transcript.WriteJSON(w, transcript.Records(s.Snapshot())); err != nil {
		a.logger.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to write transcript JSON")
	}
}

// streamSocket accepts the WebSocket for one pending stream
func (a *API) streamSocket(w http.ResponseWriter, r *http.Request) {
	id, stream := r.PathValue("id"), r.PathValue("stream")
	if !a.hub.Pending(id, stream) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s/%s", ErrNoPendingStream, id, stream))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to upgrade stream connection")
		return
	}

	if err := a.hub.Deliver(id, stream, conn); err != nil {
		a.logger.Warn().Err(err).Str("session_id", id).Msg("Stream socket arrived too late")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "stream not pending"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	a.logger.Info().Str("session_id", id).Str("stream", stream).Msg("Stream socket connected")
}

// eventSocket pushes the current transcript and then every change until
// the session is drained or the client goes away
func (a *API) eventSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to upgrade events connection")
		return
	}
	defer conn.Close()

	events, cancel := s.Subscribe()
	defer cancel()

	// Discard client frames so close and ping are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, seg := range s.Snapshot() {
		if err := writeEvent(conn, transcript.Event{Kind: transcript.EventUpsert, Segment: seg}); err != nil {
			return
		}
	}

	for {
		select {
		case ev, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
					time.Now().Add(time.Second))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				a.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("Events client write failed")
				return
			}
		case <-gone:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev transcript.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(ev)
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return nil, false
	}
	return s, true
}

func statusFor(err error, fallback int) int {
	if errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
