package notify

import "github.com/tberthier/minstrel/internal/status"

// Event represents a song lifecycle notification.
type Event struct {
	Type     string // "task.completed", "task.failed"
	TaskID   string
	Status   status.Status
	AudioURL string
	Error    string
}

// EventFromSnapshot builds the notification for a terminal snapshot.
func EventFromSnapshot(snap status.Snapshot) Event {
	typ := "task.completed"
	if snap.Status == status.StatusFailed {
		typ = "task.failed"
	}
	return Event{
		Type:     typ,
		TaskID:   snap.TaskID,
		Status:   snap.Status,
		AudioURL: snap.AudioURL,
		Error:    snap.Error,
	}
}

// Notifier sends song lifecycle notifications.
type Notifier interface {
	Notify(event Event)
}

// Hub dispatches events to multiple notifiers.
type Hub struct {
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Notify sends an event to all registered notifiers.
func (h *Hub) Notify(event Event) {
	for _, n := range h.notifiers {
		go n.Notify(event)
	}
}
