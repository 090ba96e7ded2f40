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

// ListSongs returns a handler that lists tracked generations with optional
// filters.
func ListSongs(st SnapshotReader) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.SnapshotFilter{
			Limit: 20,
		}

		if s, ok := args["status"].(string); ok && s != "" && s != "all" {
			filter.Status = s
		}
		if uid, ok := args["user_id"].(string); ok {
			filter.UserID = uid
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}
		if since, ok := args["since"].(string); ok && since != "" {
			ts, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid since value: %s", err)), nil
			}
			filter.Since = ts
		}

		records, err := st.ListSnapshots(filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Listing songs failed: %s", err)), nil
		}

		if len(records) == 0 {
			return mcp.NewToolResultText("No songs found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🎵 Songs (%d found)\n\n", len(records))

		for _, r := range records {
			icon := statusIcon(r.Status)
			fmt.Fprintf(&sb, "%s **%s** — %s\n", icon, r.TaskID, r.Status)
			fmt.Fprintf(&sb, "  Owner: %s | Updated: %s\n", r.UserID, r.UpdatedAt.Format(time.RFC3339))

			if r.Status == status.StatusProcessing {
				fmt.Fprintf(&sb, "  Progress: %d%%\n", r.Progress)
			}
			if r.AudioURL != "" {
				fmt.Fprintf(&sb, "  Audio: %s\n", r.AudioURL)
			}
			if r.Error != "" {
				fmt.Fprintf(&sb, "  Error: %s\n", r.Error)
			}

			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(s status.Status) string {
	switch s {
	case status.StatusQueued:
		return "📥"
	case status.StatusProcessing:
		return "🔄"
	case status.StatusCompleted:
		return "✅"
	case status.StatusFailed:
		return "❌"
	default:
		return "❓"
	}
}
