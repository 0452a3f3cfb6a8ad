package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

// SessionStore persists the credentials of the signed-in user between runs.
type SessionStore interface {
	Load() (chat.Credentials, bool, error)
	Save(creds chat.Credentials) error
	Clear() error
}

var sessionKey = []byte("session/credentials")

// PebbleSessionStore keeps credentials as a JSON value in the local database.
type PebbleSessionStore struct {
	db  *DB
	log zerolog.Logger
}

// NewPebbleSessionStore binds a session store to db.
func NewPebbleSessionStore(db *DB, logger zerolog.Logger) *PebbleSessionStore {
	return &PebbleSessionStore{db: db, log: logger}
}

// Load returns the stored credentials. A value that no longer decodes is
// wiped and reported as absent.
func (s *PebbleSessionStore) Load() (chat.Credentials, bool, error) {
	data, found, err := s.db.get(sessionKey)
	if err != nil {
		return chat.Credentials{}, false, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return chat.Credentials{}, false, nil
	}

	var creds chat.Credentials
	if err := json.Unmarshal(data, &creds); err != nil || !creds.Valid() {
		s.log.Warn().Err(err).Msg("[store] discarding unreadable stored session")
		if clearErr := s.Clear(); clearErr != nil {
			return chat.Credentials{}, false, clearErr
		}
		return chat.Credentials{}, false, nil
	}
	return creds, true, nil
}

// Save replaces the stored credentials.
func (s *PebbleSessionStore) Save(creds chat.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.db.db.Set(sessionKey, data, pebble.Sync); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear forgets the stored credentials.
func (s *PebbleSessionStore) Clear() error {
	if err := s.db.db.Delete(sessionKey, pebble.Sync); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// MemorySessionStore keeps credentials for the life of the process.
type MemorySessionStore struct {
	mu    sync.RWMutex
	creds *chat.Credentials
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load() (chat.Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return chat.Credentials{}, false, nil
	}
	return *s.creds, true, nil
}

func (s *MemorySessionStore) Save(creds chat.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *MemorySessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
