package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// InsertTradeSQL is shared with the batching trade journal. Replays of the
// same trade id are ignored.
const InsertTradeSQL = `
	INSERT OR IGNORE INTO trades (id, symbol, side, size, price, notional, realized_pnl, balance_after, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Queries wraps the read and write statements of the trade journal.
type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Queries returns the query helper for d.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// TradeArgs flattens t into InsertTradeSQL arguments.
func TradeArgs(t TradeRow) []any {
	return []any{t.ID, t.Symbol, t.Side, t.Size, t.Price, t.Notional, t.RealizedPnL, t.BalanceAfter, t.ExecutedAt.UTC()}
}

// InsertTrade writes one trade immediately.
func (q *Queries) InsertTrade(ctx context.Context, t TradeRow) error {
	if t.ID == "" {
		return errors.New("trade id is required")
	}
	if _, err := q.db.ExecContext(ctx, InsertTradeSQL, TradeArgs(t)...); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades returns the newest trades first. An empty symbol lists all.
func (q *Queries) ListTrades(ctx context.Context, symbol string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, side, size, price, notional, COALESCE(realized_pnl, 0), balance_after, executed_at
		FROM trades`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY executed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := []TradeRow{}
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Size, &t.Price, &t.Notional, &t.RealizedPnL, &t.BalanceAfter, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTrade loads one trade by id.
func (q *Queries) GetTrade(ctx context.Context, id string) (TradeRow, error) {
	var t TradeRow
	err := q.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, size, price, notional, COALESCE(realized_pnl, 0), balance_after, executed_at
		FROM trades WHERE id = ?`, id).
		Scan(&t.ID, &t.Symbol, &t.Side, &t.Size, &t.Price, &t.Notional, &t.RealizedPnL, &t.BalanceAfter, &t.ExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRow{}, ErrNotFound
	}
	if err != nil {
		return TradeRow{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

// Summary aggregates trades for symbol, or across all symbols when empty.
func (q *Queries) Summary(ctx context.Context, symbol string) (TradeSummary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(notional), 0), COALESCE(SUM(realized_pnl), 0) FROM trades`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	s := TradeSummary{Symbol: symbol}
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&s.Count, &s.Volume, &s.RealizedPnL); err != nil {
		return TradeSummary{}, fmt.Errorf("trade summary: %w", err)
	}
	return s, nil
}
