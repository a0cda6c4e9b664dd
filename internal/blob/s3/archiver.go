package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeArchiver implements domain.Archiver. It moves aged trade history out
// of Postgres into JSONL files on object storage, then prunes the archived
// rows. Pruning only runs after the upload and audit entry have succeeded, so
// a failed archive never loses records.
type TradeArchiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver.
func NewTradeArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// tradeLine is the JSONL wire form of a trade record.
type tradeLine struct {
	ID          int64   `json:"id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	Quantity    float64 `json:"quantity"`
	PnL         float64 `json:"pnl"`
	PnLPct      float64 `json:"pnl_pct"`
	Reason      string  `json:"reason"`
	EnteredAt   string  `json:"entered_at"`
	ExitedAt    string  `json:"exited_at"`
	HoldSeconds int64   `json:"hold_seconds"`
}

// ArchiveTrades uploads all trades exited before the cutoff to
// archive/trades/YYYY-MM.jsonl, records the event in the audit log, and
// deletes the archived rows. It returns the number of archived trades.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	lines := make([]tradeLine, 0, len(trades))
	for _, t := range trades {
		lines = append(lines, tradeLine{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Side:        string(t.Side),
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Quantity:    t.Quantity,
			PnL:         t.PnL,
			PnLPct:      t.PnLPct,
			Reason:      t.Reason,
			EnteredAt:   t.EnteredAt.UTC().Format(time.RFC3339),
			ExitedAt:    t.ExitedAt.UTC().Format(time.RFC3339),
			HoldSeconds: int64(t.HoldDuration.Seconds()),
		})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}
	if deleted != count {
		a.logger.WarnContext(ctx, "archive prune count mismatch",
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.InfoContext(ctx, "trade history archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

// Compile-time interface check.
var _ domain.Archiver = (*TradeArchiver)(nil)
