package domain

import (
	"context"
	"time"
)

// TradeStore is the position ledger. It is the single source of truth for
// open positions.
type TradeStore interface {
	// Create inserts a trade and returns it with its assigned ID.
	Create(ctx context.Context, t TradeRecord) (TradeRecord, error)
	// Update replaces the mutable fields of an existing trade.
	Update(ctx context.Context, t TradeRecord) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	GetOpen(ctx context.Context) ([]TradeRecord, error)
	// List returns the most recent trades first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]TradeRecord, error)
}

// AuditEntry is a single row of the executor audit trail.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records executor state transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
