package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tornwatch/torntrainer/pkg/store"
	"github.com/tornwatch/torntrainer/pkg/trainer"
)

// Server exposes trainer state and recommendations over the Model Context
// Protocol.
type Server struct {
	mcpServer *server.MCPServer
	store     *store.Store
	trainer   *trainer.Trainer
}

// NewServer creates a new MCP server over the shared store. trainer may be
// nil; the recommendations tool then reports unavailability.
func NewServer(st *store.Store, tr *trainer.Trainer) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"torntrainer",
			"1.0.0",
		),
		store:   st,
		trainer: tr,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// torn://snapshot
	s.mcpServer.AddResource(mcp.NewResource(
		"torn://snapshot",
		"Latest State Snapshot",
		mcp.WithResourceDescription("Most recent polled user state, cooldowns, and recommendations"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadSnapshot)

	// torn://audit
	s.mcpServer.AddResource(mcp.NewResource(
		"torn://audit",
		"Action Audit Log",
		mcp.WithResourceDescription("Recent audited actions: API calls, train plans, market alerts"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadAudit)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"recommendations",
		mcp.WithDescription("Run one decision pass and return gym/crime recommendations"),
	), s.handleRecommendations)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"trainer-aware",
		mcp.WithPromptDescription("Provides context about trainer concepts (bars, cooldowns, market watch)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadSnapshot(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.store.LastSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if snap == nil {
		snap = map[string]any{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadAudit(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := s.store.RecentActions(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit records: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit records: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRecommendations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Without a credential, fall back to the recommendations persisted by the
	// last decision pass instead of erroring.
	if s.trainer == nil {
		snap, err := s.store.LastSnapshot(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("snapshot read failed: %v", err)), nil
		}
		if snap == nil {
			return mcp.NewToolResultText("No recommendations recorded yet."), nil
		}
		data, err := json.MarshalIndent(snap["recommendations"], "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recommendations: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	}

	recs, err := s.trainer.DecideAndRecommend(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decision pass failed: %v", err)), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No recommendations: bars are below thresholds."), nil
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "trainer-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with torntrainer, a rate-limited Torn City API poller.

Concepts:
- Bars: The player's energy and nerve levels. Recommendations trigger on thresholds.
- Cooldowns: Upstream timers; crimes are only recommended when the crimes cooldown is zero.
- Market watch: Items with buy/sell price thresholds; crossings raise alerts.
- Audit log: Every API attempt and planned action is recorded with credentials redacted.

Use the 'recommendations' tool for a fresh decision pass, or read torn://snapshot
for the last recorded state without spending API budget.
`

	return mcp.NewGetPromptResult(
		"trainer-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
