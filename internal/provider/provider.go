package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the upstream provider cannot be used
// because credentials are absent. Fatal for the poller that sees it.
var ErrNotConfigured = errors.New("generation provider is not configured")

// TransientError wraps provider-side failures that are safe to retry
// (network errors, rate limits, 5xx responses).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Result is the provider's raw view of one generation task.
type Result struct {
	TaskID    string `json:"task_id"`
	RawStatus string `json:"status"`
	Progress  int    `json:"progress"`
	AudioURL  string `json:"audio_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Gateway fetches the current status of a generation task upstream.
// Defined at the consumer side per Go conventions.
type Gateway interface {
	// Configured reports whether credentials are available.
	Configured() bool
	// GetStatus returns the task's raw upstream state. Failures are either
	// ErrNotConfigured or a *TransientError.
	GetStatus(ctx context.Context, taskID string) (*Result, error)
}
