package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, venue, market_id, market_name, position, amount_eth, amount_usd,
	entry_price, entry_tx_hash, entry_timestamp, exit_price, exit_tx_hash, exit_timestamp,
	pnl_bps, status, nft_token_id, simulated`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var position, status string
	err := row.Scan(
		&t.ID, &t.Venue, &t.MarketID, &t.MarketName, &position, &t.AmountEth, &t.AmountUsd,
		&t.EntryPrice, &t.EntryTxHash, &t.EntryTimestamp, &t.ExitPrice, &t.ExitTxHash, &t.ExitTimestamp,
		&t.PnlBps, &status, &t.NftTokenID, &t.Simulated,
	)
	t.Position = domain.Outcome(position)
	t.Status = domain.TradeStatus(status)
	return t, err
}

func collectTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	defer rows.Close()
	var out []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts t, assigning a UUID when ID is empty.
func (s *TradeStore) Create(ctx context.Context, t domain.TradeRecord) (domain.TradeRecord, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TradeStatusOpen
	}
	const query = `
		INSERT INTO trades (
			id, venue, market_id, market_name, position, amount_eth, amount_usd,
			entry_price, entry_tx_hash, entry_timestamp, exit_price, exit_tx_hash, exit_timestamp,
			pnl_bps, status, nft_token_id, simulated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Venue, t.MarketID, t.MarketName, string(t.Position), t.AmountEth, t.AmountUsd,
		t.EntryPrice, t.EntryTxHash, t.EntryTimestamp, t.ExitPrice, t.ExitTxHash, t.ExitTimestamp,
		t.PnlBps, string(t.Status), t.NftTokenID, t.Simulated,
	)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: create trade: %w", err)
	}
	return t, nil
}

// Update writes the exit fields, status, NFT token id and resolved market id.
func (s *TradeStore) Update(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		UPDATE trades SET
			market_id = $2, exit_price = $3, exit_tx_hash = $4, exit_timestamp = $5,
			pnl_bps = $6, status = $7, nft_token_id = $8, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, t.ExitPrice, t.ExitTxHash, t.ExitTimestamp,
		t.PnlBps, string(t.Status), t.NftTokenID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the trade with the given id or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// GetOpen returns every OPEN trade, oldest first.
func (s *TradeStore) GetOpen(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = $1 ORDER BY entry_timestamp ASC`,
		string(domain.TradeStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// List returns the most recent trades first; limit <= 0 means all.
func (s *TradeStore) List(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY entry_timestamp DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}
