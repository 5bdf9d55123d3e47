package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/teamtasks/teamtasks/internal/storage"
)

// MCPTools is the tool surface served over MCP.
type MCPTools interface {
	Tools() []mcp.Tool
	Call(ctx context.Context, user, name, arguments string) (string, error)
	ListTasks(ctx context.Context, user string) ([]storage.Task, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tools MCPTools
	User  string // every call acts on behalf of this user
}

// NewMCPServer creates an MCP server exposing the task tools and a
// read-only task list resource for one user.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"teamtasks",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("teamtasks: list, add and update the user's team tasks."),
		server.WithRecovery(),
	)

	for _, t := range deps.Tools.Tools() {
		s.AddTool(t, mcpCallTool(deps, t.Name))
	}

	s.AddResource(
		mcp.NewResource(
			"tasks://all",
			"Tasks",
			mcp.WithResourceDescription("All of the user's tasks in every status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTasks(deps),
	)

	return s
}

func mcpCallTool(deps MCPDeps, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		out, err := deps.Tools.Call(ctx, deps.User, name, string(args))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(out), nil
	}
}

func mcpResourceTasks(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ts, err := deps.Tools.ListTasks(ctx, deps.User)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		b, err := json.Marshal(ts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
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
