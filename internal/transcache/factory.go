package transcache

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is
// configured, otherwise an in-process one.
func NewStore(ctx context.Context, databaseURL string, limits Limits) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(limits), nil
	}
	return NewPostgresStore(ctx, databaseURL, limits)
}
