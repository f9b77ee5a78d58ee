package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

// TradeStore implements domain.TradeStore on SQLite.
type TradeStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTradeStore creates a TradeStore on c.
func NewTradeStore(c *Client) *TradeStore {
	return &TradeStore{db: c.db, now: time.Now}
}

const tradeSelectCols = `id, venue, market_id, market_name, position, amount_eth, amount_usd,
	entry_price, entry_tx_hash, entry_ts, exit_price, exit_tx_hash, exit_ts,
	pnl_bps, status, nft_token_id, simulated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.TradeRecord, error) {
	var (
		t                 domain.TradeRecord
		position, status  string
		entryTS           int64
		exitPrice, pnlBps sql.NullInt64
		exitTS, nftID     sql.NullInt64
		exitTx            sql.NullString
	)
	if err := row.Scan(
		&t.ID, &t.Venue, &t.MarketID, &t.MarketName, &position, &t.AmountEth, &t.AmountUsd,
		&t.EntryPrice, &t.EntryTxHash, &entryTS, &exitPrice, &exitTx, &exitTS,
		&pnlBps, &status, &nftID, &t.Simulated,
	); err != nil {
		return domain.TradeRecord{}, err
	}
	t.Position = domain.Outcome(position)
	t.Status = domain.TradeStatus(status)
	t.EntryTimestamp = fromMillis(entryTS)
	if exitPrice.Valid {
		v := int(exitPrice.Int64)
		t.ExitPrice = &v
	}
	if exitTx.Valid {
		t.ExitTxHash = &exitTx.String
	}
	if exitTS.Valid {
		ts := fromMillis(exitTS.Int64)
		t.ExitTimestamp = &ts
	}
	if pnlBps.Valid {
		v := int(pnlBps.Int64)
		t.PnlBps = &v
	}
	if nftID.Valid {
		t.NftTokenID = &nftID.Int64
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]domain.TradeRecord, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, venue, market_id, market_name, position, amount_eth, amount_usd,
			entry_price, entry_tx_hash, entry_ts, exit_price, exit_tx_hash, exit_ts,
			pnl_bps, status, nft_token_id, simulated, updated_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Venue, t.MarketID, t.MarketName, string(t.Position), t.AmountEth, t.AmountUsd,
		t.EntryPrice, t.EntryTxHash, toMillis(t.EntryTimestamp), nullInt(t.ExitPrice), nullStr(t.ExitTxHash), nullTime(t.ExitTimestamp),
		nullInt(t.PnlBps), string(t.Status), nullInt64(t.NftTokenID), t.Simulated, toMillis(s.now()),
	)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: create trade: %w", err)
	}
	return t, nil
}

// Update writes the exit fields, status, NFT token id and resolved market id.
func (s *TradeStore) Update(ctx context.Context, t domain.TradeRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			market_id = ?, exit_price = ?, exit_tx_hash = ?, exit_ts = ?,
			pnl_bps = ?, status = ?, nft_token_id = ?, updated_ts = ?
		WHERE id = ?`,
		t.MarketID, nullInt(t.ExitPrice), nullStr(t.ExitTxHash), nullTime(t.ExitTimestamp),
		nullInt(t.PnlBps), string(t.Status), nullInt64(t.NftTokenID), toMillis(s.now()),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update trade %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update trade %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the trade with the given id or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: get trade %s: %w", id, err)
	}
	return t, nil
}

// GetOpen returns every OPEN trade, oldest first.
func (s *TradeStore) GetOpen(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = ? ORDER BY entry_ts ASC`,
		string(domain.TradeStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan open trades: %w", err)
	}
	return trades, nil
}

// List returns the most recent trades first; limit <= 0 means all.
func (s *TradeStore) List(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades ORDER BY entry_ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan trades: %w", err)
	}
	return trades, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullStr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*v), Valid: true}
}
