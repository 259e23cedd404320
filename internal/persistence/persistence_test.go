package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-worker/internal/account"
	"trading-worker/pkg/db"
)

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestTradeJournalRecordsFills(t *testing.T) {
	database := openDB(t)
	journal := NewTradeJournal(database.DB, nil)
	defer journal.Close()

	acct := account.New(10000)
	_, buy, err := acct.ApplyFill(account.Fill{Symbol: "BTC/USDT", Side: account.Buy, Size: 0.1, Price: 50000})
	require.NoError(t, err)
	_, sell, err := acct.ApplyFill(account.Fill{Symbol: "BTC/USDT", Side: account.Sell, Size: 0.1, Price: 51000})
	require.NoError(t, err)

	journal.RecordTrade(buy)
	journal.RecordTrade(sell)
	assert.Equal(t, 2, journal.Metrics().Pending)

	rows, err := journal.Recent(context.Background(), "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Zero(t, journal.Metrics().Pending)

	sum, err := journal.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.InDelta(t, 100, sum.RealizedPnL, 1e-6)
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 2, time.Hour, nil)
	defer bw.Close()

	now := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: id, Symbol: "X", Side: "BUY", Size: 1, Price: 1, Notional: 1, ExecutedAt: now})...)
	}

	assert.Zero(t, bw.Pending())
	m := bw.Metrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, nil)
	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "late", Symbol: "X", Side: "SELL", ExecutedAt: time.Now()})...)
	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())

	_, err := database.Queries().GetTrade(context.Background(), "late")
	require.NoError(t, err)
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	bw := NewBatchWriter(sqlDB, 100, time.Hour, nil)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO trades").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT OR IGNORE INTO trades").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "1"})...)
	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "2"})...)
	err = bw.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1), bw.Metrics().TotalErrors)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, bw.Close())
}
