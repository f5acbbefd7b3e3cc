package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const openPingTimeout = 5 * time.Second

// OpenPostgres opens a bun db over lib/pq.
func OpenPostgres(ctx context.Context, dsn string) (*bun.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return ping(ctx, bun.NewDB(sqlDB, pgdialect.New()))
}

// OpenSQLite opens a bun db over mattn/go-sqlite3. In-memory databases are
// pinned to a single connection.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
	}
	return ping(ctx, bun.NewDB(sqlDB, sqlitedialect.New()))
}

func ping(ctx context.Context, db *bun.DB) (*bun.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, openPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", db.Dialect().Name(), err)
	}
	return db, nil
}
