package fanout

import (
	"log/slog"

	"github.com/tberthier/minstrel/internal/status"
)

// Broadcaster delivers one status update to every session subscribed to a
// task at the moment of the call.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over the given registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Publish fans snap out to taskID's current subscribers. A session that
// cannot be written to (closed socket, full buffer) is skipped; the update
// still reaches the remaining sessions.
func (b *Broadcaster) Publish(taskID string, snap status.Snapshot) {
	for sid, sender := range b.registry.SubscribersOf(taskID) {
		if err := sender.SendStatus(snap); err != nil {
			b.logger.Debug("dropping status update",
				"task_id", taskID,
				"session_id", sid,
				"error", err)
		}
	}
}
