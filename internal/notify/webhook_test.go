package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tberthier/minstrel/internal/status"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookNotifier_DeliversSignedPayload(t *testing.T) {
	t.Parallel()

	type delivery struct {
		body      []byte
		signature string
	}
	got := make(chan delivery, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, signature: r.Header.Get(SignatureHeader)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("test", srv.URL, "hook-secret", nil, discardLogger())
	n.Notify(Event{
		Type:     "task.completed",
		TaskID:   "T1",
		Status:   status.StatusCompleted,
		AudioURL: "https://cdn.example/T1.mp3",
	})

	select {
	case d := <-got:
		assert.Equal(t, Sign("hook-secret", d.body), d.signature)

		var body map[string]any
		require.NoError(t, json.Unmarshal(d.body, &body))
		assert.Equal(t, "task.completed", body["event"])
		assert.Equal(t, "T1", body["task_id"])
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, "https://cdn.example/T1.mp3", body["audio_url"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestWebhookNotifier_FiltersEvents(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewWebhookNotifier("failures-only", srv.URL, "", []string{"task.failed"}, discardLogger())
	n.Notify(Event{Type: "task.completed", TaskID: "T1"})
	n.Notify(Event{Type: "task.failed", TaskID: "T2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventFromSnapshot(t *testing.T) {
	t.Parallel()

	done := EventFromSnapshot(status.Snapshot{TaskID: "T1", Status: status.StatusCompleted, AudioURL: "u"})
	assert.Equal(t, "task.completed", done.Type)
	assert.Equal(t, "u", done.AudioURL)

	failed := EventFromSnapshot(status.Snapshot{TaskID: "T2", Status: status.StatusFailed, Error: "boom"})
	assert.Equal(t, "task.failed", failed.Type)
	assert.Equal(t, "boom", failed.Error)
}

func TestHub_FansOutToAllNotifiers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	rec := func(name string) Notifier {
		return notifierFunc(func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+e.TaskID)
		})
	}

	hub := NewHub(rec("a"), rec("b"))
	hub.Notify(Event{Type: "task.completed", TaskID: "T1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a:T1", "b:T1"}, seen)
}

type notifierFunc func(Event)

func (f notifierFunc) Notify(e Event) { f(e) }
