package fanout

import (
	"sync"

	"github.com/tberthier/minstrel/internal/status"
)

// Sender delivers a status update to one client session.
// Defined at the consumer side per Go conventions; the realtime transport
// provides the implementation.
type Sender interface {
	SendStatus(snap status.Snapshot) error
}

// connection ties a session to the user it authenticated as and the task
// it watches.
type connection struct {
	userID string
	taskID string
	sender Sender
}

// Registry is the in-memory index of live subscriptions: task → sessions
// and session → connection. It owns no background activity and is safe for
// concurrent use. A task key exists in the task index if and only if at
// least one session is subscribed to it.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]connection        // session id → connection
	byTask map[string]map[string]Sender // task id → session id → sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]connection),
		byTask: make(map[string]map[string]Sender),
	}
}

// Add registers a session as a subscriber of taskID. A session watches at
// most one task: re-subscribing moves it, and the task it previously
// watched (if different) is returned so the caller can clean up.
func (r *Registry) Add(taskID, sessionID, userID string, sender Sender) (prevTaskID string, moved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[sessionID]; ok && prev.taskID != taskID {
		r.removeFromTask(prev.taskID, sessionID)
		prevTaskID = prev.taskID
		moved = true
	}

	r.conns[sessionID] = connection{userID: userID, taskID: taskID, sender: sender}
	if r.byTask[taskID] == nil {
		r.byTask[taskID] = make(map[string]Sender)
	}
	r.byTask[taskID][sessionID] = sender

	return prevTaskID, moved
}

// Remove deletes the session's connection record and returns the task it
// was subscribed to. When the task's subscriber set becomes empty its key
// is dropped, which is the caller's signal to stop polling.
func (r *Registry) Remove(sessionID string) (taskID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[sessionID]
	if !exists {
		return "", false
	}

	delete(r.conns, sessionID)
	r.removeFromTask(conn.taskID, sessionID)

	return conn.taskID, true
}

// HasSubscribers reports whether any session is subscribed to taskID.
func (r *Registry) HasSubscribers(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTask[taskID]) > 0
}

// SubscribersOf returns a point-in-time copy of taskID's subscribers.
func (r *Registry) SubscribersOf(taskID string) map[string]Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make(map[string]Sender, len(r.byTask[taskID]))
	for sid, sender := range r.byTask[taskID] {
		subs[sid] = sender
	}
	return subs
}

// SessionCount returns the number of live connections.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// removeFromTask deletes sessionID from taskID's subscriber set, dropping
// the set itself when it empties. Caller holds r.mu.
func (r *Registry) removeFromTask(taskID, sessionID string) {
	if subs, ok := r.byTask[taskID]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(r.byTask, taskID)
		}
	}
}
