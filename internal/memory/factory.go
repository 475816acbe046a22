package memory

import (
	"context"
	"strings"

	"github.com/ent0n29/solace/internal/logging"
)

// Open picks the archive backend: PostgreSQL when databaseURL is set,
// otherwise an in-memory store.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		logging.From(ctx).Info("transcript archive is in-memory; records are lost on restart")
		return NewInMemoryStore(DefaultSessionCap), nil
	}

	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Info("transcript archive connected", "backend", store.Backend())
	return store, nil
}
