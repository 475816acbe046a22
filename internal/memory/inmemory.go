package memory

import (
	"context"
	"sync"
)

// DefaultSessionCap bounds how many records the in-memory archive keeps per
// session. Older records are dropped first.
const DefaultSessionCap = 1000

// InMemoryStore keeps transcripts in process. It is the archive used when no
// database is configured and in tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessionCap int
	bySession  map[string][]TurnRecord
	closed     bool
}

// NewInMemoryStore creates an archive keeping at most sessionCap records per
// session. A non-positive cap uses DefaultSessionCap.
func NewInMemoryStore(sessionCap int) *InMemoryStore {
	if sessionCap <= 0 {
		sessionCap = DefaultSessionCap
	}
	return &InMemoryStore{sessionCap: sessionCap, bySession: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) Append(_ context.Context, records []TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, rec := range records {
		fillDefaults(&rec)
		list := append(s.bySession[rec.SessionID], rec)
		if over := len(list) - s.sessionCap; over > 0 {
			list = append([]TurnRecord(nil), list[over:]...)
		}
		s.bySession[rec.SessionID] = list
	}
	return nil
}

func (s *InMemoryStore) Transcript(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := s.bySession[sessionID]
	if limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	return append([]TurnRecord(nil), list...), nil
}

func (s *InMemoryStore) Backend() string { return "in-memory" }

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.bySession = nil
	s.mu.Unlock()
	return nil
}
