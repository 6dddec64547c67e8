package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cmcmaster1/ai-observability-tool/internal/observer"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

const recentEventsLimit = 20

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Observer *observer.Observer
}

// NewMCPServer creates an MCP server that lets agent orchestration code
// report crew runs and read back what was recorded.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aiobs",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aiobs records agent crew sessions locally. Call start_crew_session before logging interactions and end_crew_session when the crew finishes. Everything stored is scrubbed of PHI first."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("start_crew_session",
			mcp.WithDescription("Open a new observability session for a crew. Fails while the crew already has a running session."),
			mcp.WithString("crew", mcp.Description("Crew name"), mcp.Required()),
			mcp.WithArray("agents", mcp.Description("Agent roles in the crew")),
			mcp.WithArray("tasks", mcp.Description("Task descriptions")),
			mcp.WithString("metadata", mcp.Description("Optional JSON object stored with the session")),
		),
		mcpStartCrewSession(deps),
	)

	s.AddTool(
		mcp.NewTool("log_agent_interaction",
			mcp.WithDescription("Record one agent task execution for a running crew."),
			mcp.WithString("crew", mcp.Description("Crew name"), mcp.Required()),
			mcp.WithString("agent", mcp.Description("Agent role"), mcp.Required()),
			mcp.WithString("task", mcp.Description("Task description"), mcp.Required()),
			mcp.WithString("input", mcp.Description("Input given to the agent")),
			mcp.WithString("response", mcp.Description("Agent response")),
			mcp.WithNumber("execution_time_ms", mcp.Description("Wall time of the task in milliseconds")),
			mcp.WithNumber("input_tokens", mcp.Description("Prompt tokens consumed")),
			mcp.WithNumber("output_tokens", mcp.Description("Completion tokens produced")),
		),
		mcpLogAgentInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("log_error",
			mcp.WithDescription("Record an error raised by an agent. Unknown crews are recorded as unattached events."),
			mcp.WithString("crew", mcp.Description("Crew name"), mcp.Required()),
			mcp.WithString("agent", mcp.Description("Agent role"), mcp.Required()),
			mcp.WithString("error", mcp.Description("Error message"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional JSON object with extra context")),
		),
		mcpLogError(deps),
	)

	s.AddTool(
		mcp.NewTool("end_crew_session",
			mcp.WithDescription("Close a crew's running session as completed or failed."),
			mcp.WithString("crew", mcp.Description("Crew name"), mcp.Required()),
			mcp.WithBoolean("success", mcp.Description("Whether the crew finished successfully (default true)")),
			mcp.WithString("summary", mcp.Description("Outcome summary")),
		),
		mcpEndCrewSession(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recorded sessions, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: active, completed or error")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("metrics_summary",
			mcp.WithDescription("Aggregate performance metrics for one session, or for all sessions when session_id is omitted."),
			mcp.WithString("session_id", mcp.Description("Session id")),
		),
		mcpMetricsSummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"observability://sessions/active",
			"Active Sessions",
			mcp.WithResourceDescription("Sessions that have not finished yet"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActiveSessions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"observability://events/recent",
			"Recent Events",
			mcp.WithResourceDescription("The 20 most recent system events"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentEvents(deps),
	)

	return s
}

func mcpStartCrewSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		crew, err := req.RequireString("crew")
		if err != nil {
			return mcpError("crew is required"), nil
		}
		metadata, err := jsonObjectArg(req, "metadata")
		if err != nil {
			return mcpError(err.Error()), nil
		}

		id, err := deps.Observer.StartCrewSession(crew,
			req.GetStringSlice("agents", nil),
			req.GetStringSlice("tasks", nil),
			metadata,
		)
		if errors.Is(err, storage.ErrConflict) {
			return mcpError(fmt.Sprintf("crew %q already has a running session", crew)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start session: %v", err)), nil
		}
		return mcpText(id), nil
	}
}

func mcpLogAgentInteraction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		crew, err := req.RequireString("crew")
		if err != nil {
			return mcpError("crew is required"), nil
		}
		agent, err := req.RequireString("agent")
		if err != nil {
			return mcpError("agent is required"), nil
		}
		task, err := req.RequireString("task")
		if err != nil {
			return mcpError("task is required"), nil
		}

		var usage map[string]int
		in, out := req.GetInt("input_tokens", 0), req.GetInt("output_tokens", 0)
		if in > 0 || out > 0 {
			usage = map[string]int{"input": in, "output": out}
		}

		err = deps.Observer.LogAgentInteraction(crew, agent, task,
			req.GetString("input", ""),
			req.GetString("response", ""),
			req.GetFloat("execution_time_ms", 0),
			usage,
		)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("crew %q has no running session", crew)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log interaction: %v", err)), nil
		}
		return mcpText("ok"), nil
	}
}

func mcpLogError(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		crew, err := req.RequireString("crew")
		if err != nil {
			return mcpError("crew is required"), nil
		}
		agent, err := req.RequireString("agent")
		if err != nil {
			return mcpError("agent is required"), nil
		}
		msg, err := req.RequireString("error")
		if err != nil {
			return mcpError("error is required"), nil
		}
		errCtx, err := jsonObjectArg(req, "context")
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if err := deps.Observer.LogError(crew, agent, errors.New(msg), errCtx); err != nil {
			return mcpError(fmt.Sprintf("failed to log error: %v", err)), nil
		}
		return mcpText("ok"), nil
	}
}

func mcpEndCrewSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		crew, err := req.RequireString("crew")
		if err != nil {
			return mcpError("crew is required"), nil
		}

		err = deps.Observer.EndCrewSession(crew, req.GetBool("success", true), req.GetString("summary", ""))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("crew %q has no running session", crew)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to end session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Ended session for crew %s", crew)), nil
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := storage.SessionStatus(req.GetString("status", ""))
		if status != "" && !status.Valid() {
			return mcpError(fmt.Sprintf("unknown status %q", status)), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		sessions, err := deps.Store.ListSessions(storage.SessionFilter{Status: status, Limit: limit})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}
		if sessions == nil {
			sessions = []storage.AgentSession{}
		}
		return mcpJSON(sessions)
	}
}

func mcpMetricsSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("session_id", "")
		if id != "" {
			if _, err := deps.Store.GetSession(id); errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("session %s not found", id)), nil
			} else if err != nil {
				return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
			}
		}

		sum, err := deps.Store.MetricsSummary(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to summarise metrics: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpResourceActiveSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListSessions(storage.SessionFilter{Status: storage.StatusActive})
		if err != nil {
			return nil, fmt.Errorf("failed to list active sessions: %w", err)
		}
		if sessions == nil {
			sessions = []storage.AgentSession{}
		}
		return jsonResource(req.Params.URI, sessions)
	}
}

func mcpResourceRecentEvents(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		events, err := deps.Store.ListEvents(storage.EventFilter{Limit: recentEventsLimit})
		if err != nil {
			return nil, fmt.Errorf("failed to list recent events: %w", err)
		}
		if events == nil {
			events = []storage.SystemEvent{}
		}
		return jsonResource(req.Params.URI, events)
	}
}

// jsonObjectArg decodes an optional string argument holding a JSON object.
func jsonObjectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	raw := req.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %v", key, err)
	}
	return m, nil
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
