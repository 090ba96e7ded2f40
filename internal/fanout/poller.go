package fanout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tberthier/minstrel/internal/provider"
	"github.com/tberthier/minstrel/internal/status"
)

// SnapshotStore persists the latest known status per task.
// Defined at the consumer side per Go conventions.
type SnapshotStore interface {
	GetSnapshot(taskID string) (*status.Snapshot, error)
	PutSnapshot(snap *status.Snapshot) error
}

// Poller drives the status of one task: it queries the provider on a fixed
// interval, persists each result and fans it out, until the task reaches a
// terminal status, every subscriber leaves, the deadline passes, or it is
// cancelled.
type Poller struct {
	taskID      string
	gateway     provider.Gateway
	store       SnapshotStore
	broadcaster *Broadcaster
	interval    time.Duration
	maxDuration time.Duration
	logger      *slog.Logger
	onTerminal  func(snap status.Snapshot)
	// keepPolling reports whether the loop should run another iteration.
	// The coordinator answers it atomically against its poller table, so
	// retiring for lack of subscribers cannot race a new Subscribe.
	keepPolling func() bool
	release     func(p *Poller)

	cancel context.CancelFunc
	done   chan struct{}
}

// start launches the polling loop in its own goroutine.
func (p *Poller) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// Cancel stops the polling loop. A cancelled poller performs no further
// persistence write or broadcast.
func (p *Poller) Cancel() {
	p.cancel()
}

// Done is closed when the polling loop has fully exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()
	defer p.release(p)

	start := time.Now()

	if !p.gateway.Configured() {
		p.finish(status.Snapshot{
			TaskID:    p.taskID,
			Status:    status.StatusFailed,
			Error:     "generation provider is not configured",
			UpdatedAt: time.Now(),
		})
		return
	}

	for {
		if time.Since(start) > p.maxDuration {
			p.logger.Warn("giving up on task", "task_id", p.taskID, "after", p.maxDuration)
			p.finish(status.Snapshot{
				TaskID:    p.taskID,
				Status:    status.StatusFailed,
				Error:     "timed out waiting for generation to finish",
				UpdatedAt: time.Now(),
			})
			return
		}

		if !p.keepPolling() {
			p.logger.Debug("retiring poller", "task_id", p.taskID)
			return
		}

		res, err := p.gateway.GetStatus(ctx, p.taskID)
		switch {
		case err == nil:
			if ctx.Err() != nil {
				return
			}
			snap := status.Snapshot{
				TaskID:    p.taskID,
				Status:    status.Map(res.RawStatus),
				Progress:  clampProgress(res.Progress),
				AudioURL:  res.AudioURL,
				Error:     res.Error,
				UpdatedAt: time.Now(),
			}
			p.persist(snap)
			p.broadcaster.Publish(p.taskID, snap)
			if snap.Status.Terminal() {
				if p.onTerminal != nil {
					p.onTerminal(snap)
				}
				return
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, provider.ErrNotConfigured):
			p.finish(status.Snapshot{
				TaskID:    p.taskID,
				Status:    status.StatusFailed,
				Error:     "generation provider is not configured",
				UpdatedAt: time.Now(),
			})
			return
		default:
			// Transient and unexpected errors alike: keep the last known
			// state and try again next tick.
			p.logger.Warn("status poll failed", "task_id", p.taskID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

// finish records and fans out a terminal snapshot the loop produced itself
// rather than received from the provider.
func (p *Poller) finish(snap status.Snapshot) {
	p.persist(snap)
	p.broadcaster.Publish(p.taskID, snap)
	if p.onTerminal != nil {
		p.onTerminal(snap)
	}
}

// persist writes snap to the store; persistence failure never blocks the
// broadcast.
func (p *Poller) persist(snap status.Snapshot) {
	if err := p.store.PutSnapshot(&snap); err != nil {
		p.logger.Warn("persisting snapshot failed", "task_id", p.taskID, "error", err)
	}
}

func clampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
