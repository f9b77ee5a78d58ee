package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// LedgerArchiver implements domain.Archiver. Each call writes the full
// ledger as JSONL to trades/<YYYY-MM-DD>/<unix>.jsonl; the primary store is
// never modified.
type LedgerArchiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerArchiver creates a LedgerArchiver. audit may be nil.
func NewLedgerArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *LedgerArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerArchiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveLedger uploads every ledger row and returns the object path and
// row count. An empty ledger uploads nothing.
func (a *LedgerArchiver) ArchiveLedger(ctx context.Context) (string, int, error) {
	trades, err := a.trades.List(ctx, 0)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(trades) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}

	path := archivePath(a.now())
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive ledger upload: %w", err)
	}

	a.logger.InfoContext(ctx, "ledger archived",
		slog.String("path", path),
		slog.Int("trades", len(trades)),
		slog.Int("bytes", len(buf)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.ledger", map[string]any{
			"path":  path,
			"count": len(trades),
		}); err != nil {
			return path, len(trades), fmt.Errorf("s3blob: archive ledger audit log: %w", err)
		}
	}
	return path, len(trades), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath partitions archives by UTC day, e.g.
// trades/2025-01-31/1738281600.jsonl.
func archivePath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("trades/%s/%d.jsonl", at.Format("2006-01-02"), at.Unix())
}

// marshalJSONL serialises records as one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*LedgerArchiver)(nil)
