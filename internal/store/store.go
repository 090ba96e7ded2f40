package store

import (
	"errors"
	"time"

	"github.com/tberthier/minstrel/internal/status"
)

// ErrNotFound is returned when no snapshot exists for a task.
var ErrNotFound = errors.New("snapshot not found")

// Store is the persistence interface for Minstrel.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Snapshots
	CreateSnapshot(rec *SnapshotRecord) error
	GetSnapshot(taskID string) (*status.Snapshot, error)
	PutSnapshot(snap *status.Snapshot) error
	ListSnapshots(f SnapshotFilter) ([]SnapshotRecord, error)

	// Ownership
	Owns(taskID, userID string) (bool, error)

	// Maintenance
	Cleanup(retention time.Duration) error
	Close() error
}

// SnapshotRecord is the durable row behind a status.Snapshot, including
// fields owned by the task-creation layer (user, creation time).
type SnapshotRecord struct {
	TaskID    string
	UserID    string
	Status    status.Status
	Progress  int
	AudioURL  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot returns the record's status view.
func (r SnapshotRecord) Snapshot() status.Snapshot {
	return status.Snapshot{
		TaskID:    r.TaskID,
		Status:    r.Status,
		Progress:  r.Progress,
		AudioURL:  r.AudioURL,
		Error:     r.Error,
		UpdatedAt: r.UpdatedAt,
	}
}

// SnapshotFilter specifies criteria for listing snapshots.
type SnapshotFilter struct {
	UserID string
	Status string
	Limit  int
	Since  time.Time
}
