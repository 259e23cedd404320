package breaker

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-worker/pkg/db"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	store := NewSQLiteStore(database.DB)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	b := New(ctx, store, nil)
	require.True(t, b.Trigger(ctx, "drawdown breach", "RiskEngine"))

	restored := New(ctx, store, nil)
	assert.True(t, restored.IsActive())
	assert.Equal(t, "RiskEngine", restored.Status().TriggeredBy)

	require.True(t, restored.Reset(ctx, "ops"))
	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.Active)
	require.Len(t, st.Events, 1)
	assert.Equal(t, "ops", st.Events[0].ResetBy)
}

func TestSQLiteStoreWriteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM circuit_breaker_state")).
		WillReturnRows(sqlmock.NewRows([]string{"document"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO circuit_breaker_state")).
		WillReturnError(errors.New("database is locked"))

	b := New(ctx, NewSQLiteStore(sqlDB), nil)
	assert.False(t, b.IsActive())

	require.True(t, b.Trigger(ctx, "manual", "ops"))
	assert.True(t, b.IsActive())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreLoadErrorStartsInactive(t *testing.T) {
	ctx := context.Background()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM circuit_breaker_state")).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow("garbage"))

	b := New(ctx, NewSQLiteStore(sqlDB), nil)
	assert.False(t, b.IsActive())
	require.NoError(t, mock.ExpectationsWereMet())
}
