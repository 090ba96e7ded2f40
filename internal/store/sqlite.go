package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tberthier/minstrel/internal/status"
)

const timeFormat = time.RFC3339

var migrations = []string{
	`CREATE TABLE snapshots (
		task_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		audio_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_snapshots_user ON snapshots(user_id)`,
	`CREATE INDEX idx_snapshots_updated ON snapshots(updated_at)`,
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Snapshots ---

func (s *SQLiteStore) CreateSnapshot(rec *SnapshotRecord) error {
	_, err := s.db.Exec(`INSERT INTO snapshots (task_id, user_id, status, progress, audio_url, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.UserID, string(rec.Status), rec.Progress, rec.AudioURL, rec.Error,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(taskID string) (*status.Snapshot, error) {
	rec, err := s.getRecord(taskID)
	if err != nil {
		return nil, err
	}
	snap := rec.Snapshot()
	return &snap, nil
}

// PutSnapshot updates the status fields of an existing snapshot, preserving
// the owner and creation time. Rows are only ever created through
// CreateSnapshot, so a write against a task that Cleanup already removed is
// a no-op instead of resurrecting it without an owner.
func (s *SQLiteStore) PutSnapshot(snap *status.Snapshot) error {
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.Exec(`UPDATE snapshots SET
			status = ?,
			progress = ?,
			audio_url = ?,
			error = ?,
			updated_at = ?
		WHERE task_id = ?`,
		string(snap.Status), snap.Progress, snap.AudioURL, snap.Error,
		formatTime(updatedAt), snap.TaskID)
	if err != nil {
		return fmt.Errorf("updating snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(f SnapshotFilter) ([]SnapshotRecord, error) {
	query := "SELECT task_id, user_id, status, progress, audio_url, error, created_at, updated_at FROM snapshots WHERE 1=1"
	var args []interface{}

	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" && f.Status != "all" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(f.Since))
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var st, createdAt, updatedAt string
		if err := rows.Scan(&rec.TaskID, &rec.UserID, &st, &rec.Progress,
			&rec.AudioURL, &rec.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		rec.Status = status.Status(st)
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Ownership ---

// Owns reports whether userID owns the task. Unknown tasks are owned by no one.
func (s *SQLiteStore) Owns(taskID, userID string) (bool, error) {
	var owner string
	err := s.db.QueryRow("SELECT user_id FROM snapshots WHERE task_id = ?", taskID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading task owner: %w", err)
	}
	return owner == userID, nil
}

// --- Maintenance ---

// Cleanup deletes snapshots whose last update is older than the retention window.
func (s *SQLiteStore) Cleanup(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := formatTime(time.Now().Add(-retention))
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE updated_at < ?", cutoff); err != nil {
		return fmt.Errorf("cleaning snapshots: %w", err)
	}
	return nil
}

// --- Helpers ---

func (s *SQLiteStore) getRecord(taskID string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var st, createdAt, updatedAt string

	err := s.db.QueryRow(`SELECT task_id, user_id, status, progress, audio_url, error, created_at, updated_at
		FROM snapshots WHERE task_id = ?`, taskID).
		Scan(&rec.TaskID, &rec.UserID, &st, &rec.Progress, &rec.AudioURL, &rec.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	rec.Status = status.Status(st)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
