package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/solace/internal/dialogue"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// DefaultID is the session used by callers that do not supply one.
const DefaultID = "default"

const maxHistoryPage = 200

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
	ErrExists   = errors.New("session already exists")
)

// Session is a read-only snapshot of a conversation.
type Session struct {
	ID             string         `json:"session_id"`
	Status         Status         `json:"status"`
	TurnCount      int            `json:"turn_count"`
	State          dialogue.State `json:"-"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

type entry struct {
	meta  Session
	state dialogue.State
	// turn is a one-slot semaphore serializing turns on this session.
	turn chan struct{}
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	initial           func() dialogue.State
	onExpire          func(*Session)
}

// NewManager creates a session store. initial builds the state every new or
// reset session starts from.
func NewManager(inactivityTimeout time.Duration, initial func() dialogue.State) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	if initial == nil {
		initial = func() dialogue.State { return dialogue.State{} }
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		initial:           initial,
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new active session. An empty id gets a generated one.
func (m *Manager) Create(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok && e.meta.Status == StatusActive {
		return nil, ErrExists
	}
	e := m.newEntry(id)
	m.sessions[id] = e
	return e.snapshot(), nil
}

// GetOrCreate returns the active session for id, starting a fresh one when
// id is unknown or its previous session has ended.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok && e.meta.Status == StatusActive {
		return e.snapshot(), nil
	}
	e := m.newEntry(id)
	m.sessions[id] = e
	return e.snapshot(), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.snapshot(), nil
}

// Snapshot returns a deep copy of the session's conversation state.
func (m *Manager) Snapshot(sessionID string) (dialogue.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return dialogue.State{}, ErrNotFound
	}
	return e.state.Clone(), nil
}

// Acquire blocks until the caller holds the session's turn slot. The returned
// release func must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	var status Status
	if ok {
		status = e.meta.Status
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if status != StatusActive {
		return nil, ErrEnded
	}

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() { once.Do(func() { <-e.turn }) }

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] != e {
		release()
		return nil, ErrNotFound
	}
	if e.meta.Status != StatusActive {
		release()
		return nil, ErrEnded
	}
	e.meta.LastActivityAt = time.Now().UTC()
	return release, nil
}

// Commit replaces the session state with a copy of state.
func (m *Manager) Commit(sessionID string, state dialogue.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.meta.Status != StatusActive {
		return ErrEnded
	}
	e.state = state.Clone()
	e.meta.TurnCount = len(e.state.History)
	e.meta.LastActivityAt = time.Now().UTC()
	return nil
}

// Reset clears history and restores the initial summary and biography. It
// waits for any in-flight turn on the session.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*Session, error) {
	release, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.state = m.initial()
	e.meta.TurnCount = 0
	e.meta.LastActivityAt = time.Now().UTC()
	return e.snapshot(), nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.meta.Status = StatusEnded
	e.meta.LastActivityAt = time.Now().UTC()
	return e.snapshot(), nil
}

// History returns up to limit turns starting at offset, oldest first.
func (m *Manager) History(sessionID string, offset, limit int) (HistoryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return HistoryPage{}, ErrNotFound
	}

	total := len(e.state.History)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	start := min(offset, total)
	end := min(start+limit, total)

	turns := make([]dialogue.Turn, end-start)
	copy(turns, e.state.History[start:end])
	return HistoryPage{
		SessionID: sessionID,
		Turns:     turns,
		Offset:    offset,
		Limit:     limit,
		Total:     total,
	}, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.meta.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, e := range m.sessions {
		if e.meta.Status != StatusActive {
			continue
		}
		if now.Sub(e.meta.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		e.meta.Status = StatusEnded
		e.meta.LastActivityAt = now
		expired = append(expired, e.snapshot())
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) newEntry(id string) *entry {
	now := time.Now().UTC()
	return &entry{
		meta: Session{
			ID:             id,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		state: m.initial(),
		turn:  make(chan struct{}, 1),
	}
}

func (e *entry) snapshot() *Session {
	s := e.meta
	s.State = e.state.Clone()
	return &s
}
