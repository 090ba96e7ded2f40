package fanout

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tberthier/minstrel/internal/provider"
	"github.com/tberthier/minstrel/internal/status"
	"github.com/tberthier/minstrel/internal/store"
)

// Subscribe failures the transport maps to distinct close codes.
var (
	// ErrAuthRequired means the session presented no credential or an
	// invalid one.
	ErrAuthRequired = errors.New("authentication required")
	// ErrForbidden means the task exists but belongs to another user, or
	// ownership could not be established.
	ErrForbidden = errors.New("task belongs to another user")
)

// AuthGateway resolves a bearer token to a user ID.
type AuthGateway interface {
	VerifyToken(token string) (string, error)
}

// OwnershipGateway answers whether a user owns a task.
type OwnershipGateway interface {
	Owns(taskID, userID string) (bool, error)
}

// Session is one live realtime connection, as the coordinator sees it.
type Session interface {
	ID() string
	UserID() string
	Bind(userID string)
	Sender
}

// Deps carries the coordinator's collaborators.
type Deps struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Store       SnapshotStore
	Gateway     provider.Gateway
	Auth        AuthGateway
	Owner       OwnershipGateway
	Interval    time.Duration
	MaxDuration time.Duration
	Logger      *slog.Logger
}

// Coordinator sequences the subscription lifecycle: authentication,
// ownership check, registry bookkeeping, catch-up, and poller management.
// It guarantees at most one poller per task.
type Coordinator struct {
	registry    *Registry
	broadcaster *Broadcaster
	store       SnapshotStore
	gateway     provider.Gateway
	auth        AuthGateway
	owner       OwnershipGateway
	interval    time.Duration
	maxDuration time.Duration
	logger      *slog.Logger
	onTerminal  func(snap status.Snapshot)

	mu      sync.Mutex
	pollers map[string]*Poller // task id → active poller
}

// NewCoordinator creates a Coordinator from its dependencies.
func NewCoordinator(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		store:       deps.Store,
		gateway:     deps.Gateway,
		auth:        deps.Auth,
		owner:       deps.Owner,
		interval:    deps.Interval,
		maxDuration: deps.MaxDuration,
		logger:      logger,
		pollers:     make(map[string]*Poller),
	}
}

// SetNotifyFunc installs a hook invoked once per task when it reaches a
// terminal status. Must be set before the first Subscribe.
func (c *Coordinator) SetNotifyFunc(fn func(snap status.Snapshot)) {
	c.onTerminal = fn
}

// Subscribe authenticates the session if it has no bound user yet, checks
// task ownership, registers the subscription, and returns the task's latest
// known snapshot for immediate catch-up. A poller is started unless the
// task is already terminal or one is running.
func (c *Coordinator) Subscribe(sess Session, taskID, token string) (*status.Snapshot, error) {
	userID := sess.UserID()
	if userID == "" {
		uid, err := c.auth.VerifyToken(token)
		if err != nil {
			c.logger.Debug("subscribe rejected", "session_id", sess.ID(), "error", err)
			return nil, ErrAuthRequired
		}
		userID = uid
		sess.Bind(uid)
	}

	owns, err := c.owner.Owns(taskID, userID)
	if err != nil {
		c.logger.Warn("ownership check failed", "task_id", taskID, "error", err)
		return nil, ErrForbidden
	}
	if !owns {
		return nil, ErrForbidden
	}

	prevTask, moved := c.registry.Add(taskID, sess.ID(), userID, sess)
	if moved && !c.registry.HasSubscribers(prevTask) {
		c.stopPoller(prevTask)
	}

	snap, err := c.store.GetSnapshot(taskID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("reading snapshot failed", "task_id", taskID, "error", err)
		}
		snap = &status.Snapshot{TaskID: taskID, Status: status.StatusQueued}
	}

	if !snap.Status.Terminal() {
		c.ensurePoller(taskID)
	}

	c.logger.Info("session subscribed",
		"task_id", taskID,
		"session_id", sess.ID(),
		"user_id", userID)

	return snap, nil
}

// Unsubscribe removes the session's subscription, if any, and stops the
// task's poller when the session was its last subscriber.
func (c *Coordinator) Unsubscribe(sessionID string) {
	taskID, ok := c.registry.Remove(sessionID)
	if !ok {
		return
	}
	if !c.registry.HasSubscribers(taskID) {
		c.stopPoller(taskID)
	}
	c.logger.Debug("session unsubscribed", "task_id", taskID, "session_id", sessionID)
}

// Disconnect releases everything the session holds. Safe to call for
// sessions that never subscribed.
func (c *Coordinator) Disconnect(sessionID string) {
	c.Unsubscribe(sessionID)
}

// PollerCount returns the number of active pollers.
func (c *Coordinator) PollerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pollers)
}

// Shutdown cancels every active poller and waits for the loops to exit.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	active := make([]*Poller, 0, len(c.pollers))
	for _, p := range c.pollers {
		active = append(active, p)
	}
	c.mu.Unlock()

	for _, p := range active {
		p.Cancel()
	}
	for _, p := range active {
		<-p.Done()
	}
}

// ensurePoller starts a poller for taskID unless one is already running.
func (c *Coordinator) ensurePoller(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.pollers[taskID]; running {
		return
	}

	p := &Poller{
		taskID:      taskID,
		gateway:     c.gateway,
		store:       c.store,
		broadcaster: c.broadcaster,
		interval:    c.interval,
		maxDuration: c.maxDuration,
		logger:      c.logger,
		onTerminal:  c.onTerminal,
		release:     c.releasePoller,
		done:        make(chan struct{}),
	}
	p.keepPolling = func() bool { return c.keepPolling(p) }
	c.pollers[taskID] = p
	p.start()

	c.logger.Debug("poller started", "task_id", taskID)
}

// stopPoller cancels the task's poller if one is running. The table entry
// is removed at cancel time, not at loop exit, so a Subscribe arriving
// while the old loop drains starts a fresh poller instead of finding the
// dying one still registered.
func (c *Coordinator) stopPoller(taskID string) {
	c.mu.Lock()
	p, ok := c.pollers[taskID]
	if ok {
		delete(c.pollers, taskID)
	}
	c.mu.Unlock()

	if ok {
		p.Cancel()
	}
}

// keepPolling decides whether p runs another iteration. Retirement for
// lack of subscribers removes the table entry in the same critical
// section, so it cannot interleave with ensurePoller observing a poller
// that has already decided to exit. A poller that is no longer the
// registered one exits quietly.
func (c *Coordinator) keepPolling(p *Poller) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.pollers[p.taskID]; !ok || current != p {
		return false
	}
	if !c.registry.HasSubscribers(p.taskID) {
		delete(c.pollers, p.taskID)
		return false
	}
	return true
}

// releasePoller drops the poller from the table, but only if it is still
// the registered one: a replacement started after cancellation must not be
// evicted by the old loop's exit.
func (c *Coordinator) releasePoller(p *Poller) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.pollers[p.taskID]; ok && current == p {
		delete(c.pollers, p.taskID)
	}
}
