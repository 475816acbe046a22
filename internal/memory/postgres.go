package memory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"github.com/ent0n29/solace/internal/reliability"
)

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS transcript_records (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	turn_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	path       TEXT NOT NULL,
	content    TEXT NOT NULL,
	redacted   TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_records_session_seq ON transcript_records (session_id, seq);
`

// PostgresStore archives transcripts in PostgreSQL. Rows are ordered by an
// insertion sequence so both sides of a turn read back in the order written.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, waits for the database to answer and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}

	ping := func(ctx context.Context) error { return pool.Ping(ctx) }
	if err := reliability.Retry(ctx, 3, 250*time.Millisecond, 2*time.Second, ping); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "postgres did not answer ping")
	}

	if _, err := pool.Exec(ctx, transcriptSchema); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to ensure transcript schema")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, records []TurnRecord) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			fillDefaults(&rec)
			redacted := rec.Redacted
			if redacted == nil {
				redacted = []string{}
			}
			batch.Queue(
				`INSERT INTO transcript_records (id, session_id, turn_id, role, path, content, redacted, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				rec.ID, rec.SessionID, rec.TurnID, rec.Role, rec.Path, rec.Content, redacted, rec.CreatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return goerr.Wrap(err, "failed to append transcript records",
				goerr.V("session_id", records[0].SessionID),
				goerr.V("count", len(records)))
		}
		return nil
	})
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	query := `SELECT id, session_id, turn_id, role, path, content, redacted, created_at
		FROM transcript_records WHERE session_id = $1 ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query transcript", goerr.V("session_id", sessionID))
	}
	newestFirst, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TurnRecord, error) {
		var rec TurnRecord
		err := row.Scan(&rec.ID, &rec.SessionID, &rec.TurnID, &rec.Role, &rec.Path, &rec.Content, &rec.Redacted, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read transcript rows", goerr.V("session_id", sessionID))
	}

	out := make([]TurnRecord, len(newestFirst))
	for i, rec := range newestFirst {
		if len(rec.Redacted) == 0 {
			rec.Redacted = nil
		}
		out[len(newestFirst)-1-i] = rec
	}
	return out, nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
