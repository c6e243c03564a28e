package keymap

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLiteStore keeps the map in the key_map table of the state database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT external_id, remote_id FROM key_map`)
	if err != nil {
		return nil, fmt.Errorf("failed to load key map: %w", err)
	}
	defer rows.Close()

	m := Map{}
	for rows.Next() {
		var externalID, remoteID string
		if err := rows.Scan(&externalID, &remoteID); err != nil {
			return nil, fmt.Errorf("failed to load key map: %w", err)
		}
		m[externalID] = remoteID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load key map: %w", err)
	}
	return m, nil
}

// Save replaces the table content in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, m Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to save key map: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM key_map`); err != nil {
		return fmt.Errorf("failed to save key map: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO key_map (external_id, remote_id, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to save key map: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for externalID, remoteID := range m {
		if _, err := stmt.ExecContext(ctx, externalID, remoteID, now); err != nil {
			return fmt.Errorf("failed to save mapping for %s: %w", externalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to save key map: %w", err)
	}
	return nil
}
