package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/solace/internal/policy"
)

// NewTurnRecords builds the user and assistant records of one turn. Both
// sides go through policy.Redact; nothing unredacted leaves this function.
func NewTurnRecords(sessionID, turnID, path, user, assistant string) []TurnRecord {
	now := time.Now().UTC()
	return []TurnRecord{
		newRecord(sessionID, turnID, path, RoleUser, user, now),
		newRecord(sessionID, turnID, path, RoleAssistant, assistant, now),
	}
}

func newRecord(sessionID, turnID, path, role, text string, at time.Time) TurnRecord {
	masked, found := policy.Redact(text)
	rec := TurnRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      role,
		Path:      path,
		Content:   masked,
		CreatedAt: at,
	}
	for _, kind := range found {
		rec.Redacted = append(rec.Redacted, string(kind))
	}
	return rec
}

func fillDefaults(rec *TurnRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
