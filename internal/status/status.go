package status

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a generation task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal returns true if no further updates will follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Snapshot is the latest known status record for a task.
// The durable row in the store is the source of truth; values in flight
// are best-effort copies of it.
type Snapshot struct {
	TaskID    string
	Status    Status
	Progress  int // 0–100
	AudioURL  string
	Error     string
	UpdatedAt time.Time
}

// Provider status vocabulary. Anything not listed here maps to queued:
// an unknown word must never be read as completion or failure.
var rawStatuses = map[string]Status{
	"PENDING":   StatusQueued,
	"SUBMITTED": StatusQueued,
	"QUEUED":    StatusQueued,

	"TEXT_SUCCESS":  StatusProcessing,
	"FIRST_SUCCESS": StatusProcessing,
	"GENERATING":    StatusProcessing,
	"PROCESSING":    StatusProcessing,
	"RUNNING":       StatusProcessing,

	"SUCCESS":   StatusCompleted,
	"COMPLETE":  StatusCompleted,
	"COMPLETED": StatusCompleted,

	"CREATE_TASK_FAILED":    StatusFailed,
	"GENERATE_AUDIO_FAILED": StatusFailed,
	"CALLBACK_EXCEPTION":    StatusFailed,
	"SENSITIVE_WORD_ERROR":  StatusFailed,
	"FAILED":                StatusFailed,
	"ERROR":                 StatusFailed,
}

// Map translates the provider's raw status word into a Status.
// Total over all strings; unrecognized input maps to StatusQueued.
func Map(raw string) Status {
	if s, ok := rawStatuses[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusQueued
}
