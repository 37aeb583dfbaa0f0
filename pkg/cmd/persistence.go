// Package cmd holds the shared construction helpers used by the caseflow
// binaries: persistence, event bus and redis wiring driven by CLI flags.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/caseflow/caseflow/pkg/persistence/memory"
	"github.com/caseflow/caseflow/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL.
// postgres URLs get the durable store; everything else falls back to the
// in-memory store, which only suits local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		logger.WarnContext(ctx, "no durable database configured, using in-memory persistence",
			"database_url", databaseURL)

		return memory.NewPersistence()
	}
}
