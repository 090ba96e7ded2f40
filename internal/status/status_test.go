package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_KnownVocabulary(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"PENDING":               StatusQueued,
		"SUBMITTED":             StatusQueued,
		"QUEUED":                StatusQueued,
		"TEXT_SUCCESS":          StatusProcessing,
		"FIRST_SUCCESS":         StatusProcessing,
		"GENERATING":            StatusProcessing,
		"PROCESSING":            StatusProcessing,
		"RUNNING":               StatusProcessing,
		"SUCCESS":               StatusCompleted,
		"COMPLETE":              StatusCompleted,
		"COMPLETED":             StatusCompleted,
		"CREATE_TASK_FAILED":    StatusFailed,
		"GENERATE_AUDIO_FAILED": StatusFailed,
		"CALLBACK_EXCEPTION":    StatusFailed,
		"SENSITIVE_WORD_ERROR":  StatusFailed,
		"FAILED":                StatusFailed,
		"ERROR":                 StatusFailed,
	}

	for raw, want := range cases {
		assert.Equal(t, want, Map(raw), "raw status %q", raw)
	}
}

func TestMap_IsCaseAndSpaceInsensitive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusProcessing, Map("generating"))
	assert.Equal(t, StatusCompleted, Map("  Success "))
}

func TestMap_UnrecognizedDefaultsToQueued(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "WAT", "ALMOST_DONE", "💥", "success-ish"} {
		assert.Equal(t, StatusQueued, Map(raw), "raw status %q", raw)
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
