package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one step of the kv database schema.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations are ordered by version, starting at 1 with no gaps.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Key/value table for namespaced blobs",
		Up: `
CREATE TABLE IF NOT EXISTS kv (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);`,
		Down: `DROP TABLE IF EXISTS kv;`,
	},
	{
		Version:     2,
		Description: "Track last write time per key",
		Up:          `ALTER TABLE kv ADD COLUMN updated_ns INTEGER NOT NULL DEFAULT 0;`,
		// SQLite cannot drop columns before 3.35; rebuild the table.
		Down: `
CREATE TABLE kv_v1 (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
INSERT INTO kv_v1 (key, value) SELECT key, value FROM kv;
DROP TABLE kv;
ALTER TABLE kv_v1 RENAME TO kv;`,
	},
}

// LatestVersion is the schema version this build writes.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// MigrationState is a migration and when it was applied, if it was.
type MigrationState struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// MigrateDB brings db up to LatestVersion.
func MigrateDB(db *sql.DB) error {
	return MigrateTo(context.Background(), db, LatestVersion())
}

// SchemaVersion returns the highest applied migration version, 0 for a
// fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureMigrationTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// MigrationStatus lists every known migration with its applied time.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]MigrationState, error) {
	if err := ensureMigrationTable(ctx, db); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			ns      int64
		)
		if err := rows.Scan(&version, &ns); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = time.Unix(0, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	states := make([]MigrationState, len(migrations))
	for i, m := range migrations {
		at, ok := applied[m.Version]
		states[i] = MigrationState{Migration: m, Applied: ok, AppliedAt: at}
	}
	return states, nil
}

// MigrateTo moves the schema up or down to version, one transaction per
// step. Version 0 drops the kv table and everything stored in it.
func MigrateTo(ctx context.Context, db *sql.DB, version int) error {
	if version < 0 || version > LatestVersion() {
		return fmt.Errorf("schema version %d out of range 0..%d", version, LatestVersion())
	}
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > LatestVersion() {
		return fmt.Errorf("database schema %d is newer than this build (%d)", current, LatestVersion())
	}

	for _, m := range migrations {
		if m.Version > current && m.Version <= version {
			if err := applyStep(ctx, db, m, true); err != nil {
				return err
			}
		}
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version <= current && m.Version > version {
			if err := applyStep(ctx, db, m, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, m Migration, up bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	script, record, args := m.Up,
		`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
		[]any{m.Version, time.Now().UnixNano(), m.Description}
	direction := "apply"
	if !up {
		script, record, args = m.Down, `DELETE FROM schema_migrations WHERE version = ?`, []any{m.Version}
		direction = "revert"
	}

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d (%s): %w", direction, m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
