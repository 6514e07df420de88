// Package backup produces, verifies, and retains logical dumps of the
// ledger database.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// Manifest tracks backup artifacts that passed verification.
type Manifest interface {
	// Register records a verified backup.
	Register(ctx context.Context, info types.BackupInfo) error

	// MarkReplicated flags a backup as mirrored to object storage.
	MarkReplicated(ctx context.Context, id string) error

	// List returns all recorded backups, newest first.
	List(ctx context.Context) ([]types.BackupInfo, error)

	// Remove deletes a backup record.
	Remove(ctx context.Context, id string) error

	// LatestCreatedAt returns the creation time of the most recent backup.
	// ok is false when the manifest is empty.
	LatestCreatedAt(ctx context.Context) (t time.Time, ok bool, err error)

	// Close closes the manifest database.
	Close() error
}

// SQLiteManifest implements Manifest using a local SQLite database next to
// the backup artifacts.
type SQLiteManifest struct {
	db *sql.DB
	mu sync.Mutex

	insertStmt *sql.Stmt
}

const manifestSchemaSQL = `
CREATE TABLE IF NOT EXISTS backups (
	backup_id   TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	checksum    TEXT NOT NULL,
	replicated  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);`

// NewSQLiteManifest opens (creating if needed) the manifest database at
// dbPath.
func NewSQLiteManifest(dbPath string) (*SQLiteManifest, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to open manifest: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(manifestSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("backup: failed to initialize manifest schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO backups (backup_id, path, size_bytes, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backup: failed to prepare insert statement: %w", err)
	}

	return &SQLiteManifest{db: db, insertStmt: insertStmt}, nil
}

// Register records a verified backup.
func (m *SQLiteManifest) Register(ctx context.Context, info types.BackupInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.insertStmt.ExecContext(ctx,
		info.ID, info.Path, info.SizeBytes, info.Checksum, info.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("backup: failed to insert manifest record: %w", err)
	}
	return nil
}

// MarkReplicated flags a backup as mirrored to object storage.
func (m *SQLiteManifest) MarkReplicated(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.ExecContext(ctx,
		`UPDATE backups SET replicated = 1 WHERE backup_id = ?`, id)
	if err != nil {
		return fmt.Errorf("backup: failed to mark replicated: %w", err)
	}
	return nil
}

// List returns all recorded backups, newest first.
func (m *SQLiteManifest) List(ctx context.Context) ([]types.BackupInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT backup_id, path, size_bytes, checksum, created_at
		FROM backups ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to query manifest: %w", err)
	}
	defer rows.Close()

	var backups []types.BackupInfo
	for rows.Next() {
		var info types.BackupInfo
		var createdAt int64
		if err := rows.Scan(&info.ID, &info.Path, &info.SizeBytes, &info.Checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("backup: failed to scan manifest record: %w", err)
		}
		info.CreatedAt = time.Unix(createdAt, 0).UTC()
		backups = append(backups, info)
	}
	return backups, rows.Err()
}

// Remove deletes a backup record.
func (m *SQLiteManifest) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.ExecContext(ctx, `DELETE FROM backups WHERE backup_id = ?`, id); err != nil {
		return fmt.Errorf("backup: failed to delete manifest record: %w", err)
	}
	return nil
}

// LatestCreatedAt returns the creation time of the most recent backup.
func (m *SQLiteManifest) LatestCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var createdAt sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM backups`).Scan(&createdAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("backup: failed to query latest backup: %w", err)
	}
	if !createdAt.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(createdAt.Int64, 0).UTC(), true, nil
}

// Close closes the manifest database.
func (m *SQLiteManifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertStmt != nil {
		m.insertStmt.Close()
	}
	return m.db.Close()
}
