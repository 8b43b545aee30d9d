package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/storage"
)

// MCPStore is the read-only storage the MCP tools use.
type MCPStore interface {
	ListSwipes(ctx context.Context, userID string, limit int) ([]storage.SwipeEvent, error)
	ListSaved(ctx context.Context, userID string) ([]storage.SavedDestination, error)
}

// PreferenceReader reads a user's preference vector.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (profile.Vector, bool, error)
}

// MCPDeps holds dependencies for the MCP server. The server answers for a
// single user.
type MCPDeps struct {
	Store   MCPStore
	Profile PreferenceReader
	UserID  string
}

// NewMCPServer creates an MCP server exposing the user's taste profile.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"roamr",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("roamr: read-only travel taste profile, saved destinations and swipe history for one user."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_taste_profile",
			mcp.WithDescription("Return the user's learned travel preference scores (0 to 1 per dimension) and strongest dimensions."),
			mcp.WithNumber("top", mcp.Description("How many strongest dimensions to list (default 3)")),
		),
		mcpGetTasteProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("list_saved_destinations",
			mcp.WithDescription("List the destination ids the user has saved, newest first."),
		),
		mcpListSaved(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_swipes",
			mcp.WithDescription("Return the user's most recent swipe events."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 10)")),
		),
		mcpRecentSwipes(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://taste",
			"Taste Profile",
			mcp.WithResourceDescription("Current preference vector as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTaste(deps),
	)

	return s
}

type tasteProfile struct {
	UserID      string         `json:"user_id"`
	Preferences profile.Vector `json:"preferences"`
	Top         []string       `json:"top"`
}

func loadTaste(ctx context.Context, deps MCPDeps, top int) (tasteProfile, error) {
	vec, ok, err := deps.Profile.GetPreferences(ctx, deps.UserID)
	if err != nil {
		return tasteProfile{}, err
	}
	if !ok {
		return tasteProfile{}, fmt.Errorf("no preferences for user %s", deps.UserID)
	}
	return tasteProfile{UserID: deps.UserID, Preferences: vec, Top: profile.TopDimensions(vec, top)}, nil
}

func mcpGetTasteProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		top := req.GetInt("top", 3)
		if top <= 0 {
			top = 3
		}
		taste, err := loadTaste(ctx, deps, top)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load taste profile: %v", err)), nil
		}
		b, err := json.Marshal(taste)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSaved(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := deps.Store.ListSaved(ctx, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list saved destinations: %v", err)), nil
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.DestinationID
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentSwipes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		swipes, err := deps.Store.ListSwipes(ctx, deps.UserID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list swipes: %v", err)), nil
		}
		if swipes == nil {
			swipes = []storage.SwipeEvent{}
		}
		b, err := json.Marshal(swipes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTaste(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		taste, err := loadTaste(ctx, deps, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to load taste profile: %w", err)
		}
		b, err := json.Marshal(taste)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
