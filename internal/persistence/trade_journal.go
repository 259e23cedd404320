package persistence

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"trading-worker/internal/account"
	"trading-worker/pkg/db"
)

// TradeJournal records booked trades in SQLite without blocking the
// execution path. It is the router's TradeSink.
type TradeJournal struct {
	writer  *BatchWriter
	queries *db.Queries
}

// NewTradeJournal batches up to 50 trades or flushes every second.
func NewTradeJournal(sqlDB *sql.DB, logger *zap.Logger) *TradeJournal {
	return &TradeJournal{
		writer:  NewBatchWriter(sqlDB, 50, time.Second, logger),
		queries: db.NewQueries(sqlDB),
	}
}

// RecordTrade buffers t for the next flush.
func (j *TradeJournal) RecordTrade(t account.Trade) {
	j.writer.WriteQuery(db.InsertTradeSQL, db.TradeArgs(toRow(t))...)
}

// Recent flushes pending trades and returns the newest ones.
func (j *TradeJournal) Recent(ctx context.Context, symbol string, limit int) ([]db.TradeRow, error) {
	if err := j.writer.Flush(ctx); err != nil {
		return nil, err
	}
	return j.queries.ListTrades(ctx, symbol, limit)
}

// Summary flushes pending trades and aggregates the journal.
func (j *TradeJournal) Summary(ctx context.Context, symbol string) (db.TradeSummary, error) {
	if err := j.writer.Flush(ctx); err != nil {
		return db.TradeSummary{}, err
	}
	return j.queries.Summary(ctx, symbol)
}

func (j *TradeJournal) Metrics() BatchWriterMetrics {
	return j.writer.Metrics()
}

// Close flushes what is left.
func (j *TradeJournal) Close() error {
	return j.writer.Close()
}

func toRow(t account.Trade) db.TradeRow {
	return db.TradeRow{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Size:         t.Size,
		Price:        t.Price,
		Notional:     t.Notional,
		RealizedPnL:  t.RealizedPnL,
		BalanceAfter: t.BalanceAfter,
		ExecutedAt:   t.Timestamp,
	}
}
