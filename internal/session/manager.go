package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/stt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session with a taken id
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidID is returned for session or stream ids that are not safe
	// to use in URLs and file names
	ErrInvalidID = errors.New("invalid id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id may name a session or stream
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Manager is the registry of sessions served by this process
type Manager struct {
	config  Config
	backend stt.Backend
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a registry whose sessions share backend
func NewManager(cfg Config, backend stt.Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		config:   cfg,
		backend:  backend,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// NewID returns a fresh session id
func NewID() string {
	return uuid.New().String()
}

// Create registers and starts a session. An empty id is generated.
func (m *Manager) Create(ctx context.Context, id string, specs []StreamSpec) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: session %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s := New(id, m.config, m.backend, m.logger)
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.Start(ctx, specs); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Get returns the session with id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns all sessions ordered by id
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	return sessions
}

// Stop stops the session with id and returns its drained result.
// The session stays registered so its transcript can still be fetched.
func (m *Manager) Stop(ctx context.Context, id string) (*Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Stop(ctx)
}

// Remove unregisters a stopped session
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.State() != StateStopped {
		return fmt.Errorf("session %s is %s", id, s.State())
	}
	delete(m.sessions, id)
	return nil
}

// StopAll stops every live session, used on shutdown
func (m *Manager) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.List() {
		if s.State() == StateStopped {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if _, err := s.Stop(ctx); err != nil {
				m.logger.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to stop session on shutdown")
			}
		}(s)
	}
	wg.Wait()
}

// Active returns the number of sessions not yet stopped
func (m *Manager) Active() int {
	n := 0
	for _, s := range m.List() {
		if s.State() != StateStopped {
			n++
		}
	}
	return n
}
