package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tberthier/minstrel/internal/status"
	"github.com/tberthier/minstrel/internal/store"
)

const (
	longPollInterval = 500 * time.Millisecond
	longPollMaxWait  = 30
)

// SnapshotReader is the slice of the store the MCP handlers need.
// Defined at the consumer side per Go conventions.
type SnapshotReader interface {
	GetSnapshot(taskID string) (*status.Snapshot, error)
	ListSnapshots(filter store.SnapshotFilter) ([]store.SnapshotRecord, error)
}

// CheckSong returns a handler that reports a song's generation status.
// When wait_seconds > 0 and the song is still in flight, it long-polls
// the store until the status or progress changes or the timeout expires.
func CheckSong(st SnapshotReader) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		snap, err := st.GetSnapshot(taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Song not found: %s", taskID)), nil
		}

		waitSeconds := 0
		if w, ok := args["wait_seconds"].(float64); ok && w > 0 {
			waitSeconds = int(w)
			if waitSeconds > longPollMaxWait {
				waitSeconds = longPollMaxWait
			}
		}

		if waitSeconds > 0 && !snap.Status.Terminal() {
			snap = waitForChange(ctx, st, taskID, snap, time.Duration(waitSeconds)*time.Second)
		}

		return mcp.NewToolResultText(formatCheckResponse(*snap)), nil
	}
}

// waitForChange re-reads the snapshot until its status or progress moves,
// or the timeout expires.
func waitForChange(ctx context.Context, st SnapshotReader, taskID string, initial *status.Snapshot, timeout time.Duration) *status.Snapshot {
	deadline := time.After(timeout)
	ticker := time.NewTicker(longPollInterval)
	defer ticker.Stop()

	current := initial
	for {
		select {
		case <-ctx.Done():
			return current
		case <-deadline:
			return current
		case <-ticker.C:
			snap, err := st.GetSnapshot(taskID)
			if err != nil {
				continue
			}
			current = snap
			if snap.Status != initial.Status || snap.Progress != initial.Progress {
				return snap
			}
		}
	}
}

func formatCheckResponse(snap status.Snapshot) string {
	var b strings.Builder

	switch snap.Status {
	case status.StatusQueued:
		b.WriteString("Status: queued\n")
		b.WriteString("The song is waiting for the generation provider to pick it up.")

	case status.StatusProcessing:
		b.WriteString("Status: processing\n")
		fmt.Fprintf(&b, "Progress: %d%%\n", snap.Progress)
		b.WriteString("Use check_song with wait_seconds to follow along.")

	case status.StatusCompleted:
		b.WriteString("Status: completed\n")
		if snap.AudioURL != "" {
			fmt.Fprintf(&b, "Audio: %s\n", snap.AudioURL)
		}

	case status.StatusFailed:
		b.WriteString("Status: failed\n")
		if snap.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", snap.Error)
		}
	}

	return b.String()
}
