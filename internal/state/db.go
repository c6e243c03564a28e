// Package state owns the local SQLite database: schema versioning, OAuth
// tokens, the optional key-map table and the history of sync runs.
package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaName = "gcalbridge"

// DB is the state database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// SQL exposes the connection pool for stores that keep their own tables.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Each entry upgrades the schema by one version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS tokens (
			account_name TEXT PRIMARY KEY,
			token TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS key_map (
			external_id TEXT PRIMARY KEY,
			remote_id TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			candidates INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			invalid INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started ON sync_runs (started_at)`,
	},
}

// SchemaVersion is the version Open migrates to.
var SchemaVersion = len(migrations)

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS db_version (
		name TEXT PRIMARY KEY,
		version INTEGER
	)`)
	if err != nil {
		return fmt.Errorf("failed to create db_version table: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `INSERT OR IGNORE INTO db_version (name, version) VALUES (?, 0)`, schemaName)
	if err != nil {
		return fmt.Errorf("failed to initialize db_version table: %w", err)
	}

	version, err := d.Version(ctx)
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("state database version %d is newer than supported version %d", version, len(migrations))
	}

	for ; version < len(migrations); version++ {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration: %w", err)
		}
		for _, stmt := range migrations[version] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to migrate state database to version %d: %w", version+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE db_version SET version = ? WHERE name = ?`, version+1, schemaName); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update db_version table: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration: %w", err)
		}
	}
	return nil
}

// Version returns the current schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx, `SELECT version FROM db_version WHERE name = ?`, schemaName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
