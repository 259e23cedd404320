package breaker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLiteStore keeps the document in the one-row circuit_breaker_state table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM circuit_breaker_state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load breaker state: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return State{}, fmt.Errorf("decode breaker state: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode breaker state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_state (id, document, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = CURRENT_TIMESTAMP
	`, string(doc))
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}
