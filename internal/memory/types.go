package memory

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = goerr.New("transcript archive is closed")

// TurnRecord is one side of a committed turn as kept in the transcript archive.
// Content is always redacted; Redacted lists the kinds of personal data masked.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Role      string    `json:"role"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Redacted  []string  `json:"redacted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store archives redacted turn records per session.
type Store interface {
	// Append writes the records of one turn atomically.
	Append(ctx context.Context, records []TurnRecord) error
	// Transcript returns up to limit of the newest records for a session in
	// chronological order. limit <= 0 means all.
	Transcript(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	// Backend names the storage kind for ops endpoints.
	Backend() string
	Close() error
}
