// Package sqlite implements the position ledger and audit trail on a local
// SQLite file through modernc.org/sqlite (pure Go, no CGo). Timestamps are
// stored as Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id              TEXT PRIMARY KEY,
    venue           TEXT    NOT NULL,
    market_id       TEXT    NOT NULL,
    market_name     TEXT    NOT NULL DEFAULT '',
    position        TEXT    NOT NULL,
    amount_eth      REAL    NOT NULL,
    amount_usd      REAL    NOT NULL DEFAULT 0,
    entry_price     INTEGER NOT NULL,
    entry_tx_hash   TEXT    NOT NULL DEFAULT '',
    entry_ts        INTEGER NOT NULL,
    exit_price      INTEGER,
    exit_tx_hash    TEXT,
    exit_ts         INTEGER,
    pnl_bps         INTEGER,
    status          TEXT    NOT NULL DEFAULT 'OPEN',
    nft_token_id    INTEGER,
    simulated       INTEGER NOT NULL DEFAULT 0,
    updated_ts      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_status   ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_entry_ts ON trades(entry_ts DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_ts INTEGER NOT NULL
);
`

// Client owns the database handle.
type Client struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Client{db: db}, nil
}

// DB returns the underlying handle.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *Client) Close() error { return c.db.Close() }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
