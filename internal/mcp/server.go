// Package mcp exposes the workout sync as Model Context Protocol tools so
// agents can trigger syncs and inspect the sync log over stdio.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stridesync/stridesync/internal/tracker"
)

// New creates an MCP server with all tools and resources registered.
func New(tr *tracker.Tracker, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("StrideSync", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("Treadmill workout sync server. Trigger a sync of the current treadmill distance to Fitbit, or review recent sync attempts."),
	)

	h := &handlers{tracker: tr, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolSyncWorkout, Handler: h.syncWorkout},
		server.ServerTool{Tool: toolGetSyncHistory, Handler: h.getSyncHistory},
	)

	s.AddResources(
		server.ServerResource{Resource: resSyncHistory, Handler: h.syncHistory},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	tracker *tracker.Tracker
	log     *slog.Logger
}

var resSyncHistory = mcp.NewResource(
	"stridesync://sync_history",
	"Sync History",
	mcp.WithResourceDescription("Recent workout sync attempts, successes and failures, newest last"),
	mcp.WithMIMEType("application/json"),
)
