package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
)

const (
	StatusActive = "ACTIVE"
	StatusClosed = "CLOSED"
)

// Service keeps chat sessions and their transcripts in memory.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	active   map[string]string // user id to active session id
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewService bootstraps an empty in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		active:   make(map[string]string),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenSession returns the user's active session, creating one when needed.
func (s *Service) OpenSession(_ context.Context, userID string) chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[userID]; ok {
		return s.sessions[id]
	}
	session := s.createLocked(uuid.NewString(), userID)
	s.active[userID] = session.ID
	return session
}

// EnsureSession registers sessionID for a guest that connected without
// logging in. Existing sessions are returned unchanged.
func (s *Service) EnsureSession(_ context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}
	return s.createLocked(sessionID, ""), nil
}

func (s *Service) createLocked(id, userID string) chat.Session {
	session := chat.Session{
		ID:        id,
		UserID:    userID,
		Status:    StatusActive,
		StartedAt: s.now(),
	}
	s.sessions[id] = session
	s.messages[id] = make([]chat.Message, 0, 16)
	return session
}

// CloseUserSessions ends the active session of userID.
func (s *Service) CloseUserSessions(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[userID]
	if !ok {
		return
	}
	session := s.sessions[id]
	session.Status = StatusClosed
	s.sessions[id] = session
	delete(s.active, userID)
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}
