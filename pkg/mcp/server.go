package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cpravetz/stage7-sub000/pkg/engine"
)

// NewServer creates a new MCP server with planfix tools registered.
func NewServer(version string, eng *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"planfix",
		version,
		server.WithToolCapabilities(true),
	)

	h := &Handlers{Engine: eng}

	s.AddTool(
		mcp.NewTool("planfix/validate",
			mcp.WithDescription("Validate and repair a plan (a JSON array of step records)"),
			mcp.WithString("plan", mcp.Description("Plan JSON (inline)")),
			mcp.WithString("path", mcp.Description("Path to a plan file (.json or .yaml)")),
			mcp.WithString("goal", mcp.Description("Mission goal to steer repair (optional)")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("planfix/schema",
			mcp.WithDescription("Export the step record JSON Schema"),
		),
		h.HandleSchema,
	)

	return s
}
