package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// --- Tool definitions ---

var toolSyncWorkout = mcp.NewTool("sync_workout",
	mcp.WithDescription("Sync a treadmill workout to Fitbit. Reads the current distance sensor unless an explicit distance is given."),
	mcp.WithNumber("distance_miles", mcp.Description("Distance in miles to sync instead of reading the sensor")),
)

var toolGetSyncHistory = mcp.NewTool("get_sync_history",
	mcp.WithDescription("Recent workout sync attempts with distance, steps, duration, and outcome. Newest last."),
	mcp.WithNumber("limit", mcp.Description("Maximum number of records to return. Defaults to all retained records.")),
)

func (h *handlers) syncWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var override *float64
	if d := req.GetFloat("distance_miles", 0); d != 0 {
		override = &d
	}

	rec, err := h.tracker.ManualSync(ctx, override)
	if err != nil {
		h.log.Error("mcp sync_workout", "error", err)
		return mcp.NewToolResultError("sync failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(rec)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSyncHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records := h.tracker.History()

	if limit := int(req.GetFloat("limit", 0)); limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}

	result, err := mcp.NewToolResultJSON(records)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) syncHistory(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(h.tracker.History())
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
