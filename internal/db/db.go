// internal/db/db.go
package db

import (
    "context"
    "database/sql"
    "fmt"
    "log/slog"
    "time"

    _ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
    if dsn == "" {
        return nil, fmt.Errorf("invalid DATABASE_URL")
    }

    conn, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, fmt.Errorf("failed to open DB: %w", err)
    }

    conn.SetMaxOpenConns(30)
    conn.SetMaxIdleConns(5)
    conn.SetConnMaxLifetime(time.Hour)
    conn.SetConnMaxIdleTime(30 * time.Minute)

    pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := conn.PingContext(pingCtx); err != nil {
        conn.Close()
        return nil, fmt.Errorf("failed to ping DB: %w", err)
    }

    slog.Info("db_connected")
    return conn, nil
}
