package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/tberthier/minstrel/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Store   handlers.SnapshotReader
	Version string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Minstrel",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
