package session

import (
	"time"

	"github.com/ent0n29/solace/internal/dialogue"
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	SessionID string `json:"session_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// HistoryPage is one window of a session's turn history.
type HistoryPage struct {
	SessionID string          `json:"session_id"`
	Turns     []dialogue.Turn `json:"turns"`
	Offset    int             `json:"offset"`
	Limit     int             `json:"limit"`
	Total     int             `json:"total"`
}
