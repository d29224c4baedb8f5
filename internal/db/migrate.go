package db

import (
    "context"
    "database/sql"
    _ "embed"
    "fmt"
    "log/slog"
)

//go:embed schema.sql
var schema string

// Migrate creates the schema. It is idempotent and runs once at startup,
// before any request is served.
func Migrate(ctx context.Context, conn *sql.DB) error {
    if _, err := conn.ExecContext(ctx, schema); err != nil {
        return fmt.Errorf("failed to apply schema: %w", err)
    }
    slog.Info("db_schema_ready")
    return nil
}
