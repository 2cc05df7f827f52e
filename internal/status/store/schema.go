package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Tables lists the status tables in dependency order (children first).
var Tables = []string{"answers", "questions", "employer_attributions", "status_events", "certificates"}

// EnsureSchema creates the status tables if they are missing. Every statement is
// idempotent so the server and the CLI can both run it on startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure status schema: %w", err)
	}
	return nil
}
