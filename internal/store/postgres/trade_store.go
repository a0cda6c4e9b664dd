package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const tradeCols = `id, symbol, side, entry_price, exit_price, quantity,
	pnl, pnl_pct, reason, entered_at, exited_at, hold_seconds`

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert appends one completed round trip.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades
			(symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct, reason, entered_at, exited_at, hold_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExitPrice, rec.Quantity,
		rec.PnL, rec.PnLPct, rec.Reason, rec.EnteredAt, rec.ExitedAt,
		int64(rec.HoldDuration.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.Symbol, err)
	}
	return nil
}

// ListRecent returns the most recent trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM trades ORDER BY exited_at DESC LIMIT $1`, tradeCols)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListBySymbol returns trades for one symbol with pagination and optional
// time filtering.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE symbol = $1`, tradeCols)
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND exited_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND exited_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY exited_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListBefore returns all trades that exited strictly before the cutoff, for
// archival.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE exited_at < $1 ORDER BY exited_at`, tradeCols)

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore removes archived trades and returns how many rows went.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE exited_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SumPnL returns the total realised PnL since the given time.
func (s *TradeStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE exited_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return sum, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			rec         domain.TradeRecord
			side        string
			holdSeconds int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice, &rec.Quantity,
			&rec.PnL, &rec.PnLPct, &rec.Reason, &rec.EnteredAt, &rec.ExitedAt, &holdSeconds,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade row: %w", err)
		}
		rec.Side = domain.PositionSide(side)
		rec.HoldDuration = time.Duration(holdSeconds) * time.Second
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
