package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes for objects that already exist.
const (
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
)

// Execer runs DDL. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Initialize applies all schemas to the database.
// It's safe to call multiple times - existing tables are skipped.
func Initialize(ctx context.Context, db Execer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := All()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}

	for _, s := range schemas {
		if err := applySchema(ctx, db, s, logger); err != nil {
			return err
		}
	}

	return nil
}

// applySchema runs a single schema file.
func applySchema(ctx context.Context, db Execer, s Schema, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, s.SQL); err != nil {
		if isAlreadyExistsError(err) {
			logger.Info("schema already exists", "name", s.Name)
			return nil
		}
		return fmt.Errorf("failed to apply schema %s: %w", s.Name, err)
	}

	logger.Debug("schema applied", "name", s.Name)
	return nil
}

// isAlreadyExistsError reports whether err is a duplicate table/object error.
// Concurrent initializers can race past IF NOT EXISTS.
func isAlreadyExistsError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeDuplicateTable || pgErr.Code == codeDuplicateObject
}
