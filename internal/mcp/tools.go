package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tberthier/minstrel/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// check_song — Check generation status
	s.AddTool(
		mcp.NewTool("check_song",
			mcp.WithDescription("Check the current generation status of a song. Supports long-polling with wait_seconds to reduce polling overhead."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The generation task ID"),
			),
			mcp.WithNumber("wait_seconds",
				mcp.Description("Wait up to N seconds for status changes before responding (long-poll). 0 for immediate response."),
			),
		),
		handlers.CheckSong(deps.Store),
	)

	// list_songs — List tracked generations
	s.AddTool(
		mcp.NewTool("list_songs",
			mcp.WithDescription("List tracked song generations with optional filters."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("all", "queued", "processing", "completed", "failed"),
			),
			mcp.WithString("user_id",
				mcp.Description("Filter by owning user"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of songs to return (default: 20)"),
			),
			mcp.WithString("since",
				mcp.Description("ISO 8601 datetime, only songs created after this time"),
			),
		),
		handlers.ListSongs(deps.Store),
	)
}
