package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cpravetz/stage7-sub000/pkg/engine"
	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

// Handlers carries the shared engine behind the MCP tools.
type Handlers struct {
	Engine *engine.Engine
}

// HandleValidate implements the planfix/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw, _ := args["plan"].(string)
	path, _ := args["path"].(string)
	goal, _ := args["goal"].(string)

	var doc []byte
	switch {
	case raw != "":
		doc = []byte(raw)
	case path != "":
		var err error
		if doc, err = plan.ReadDocument(path); err != nil {
			return errorResult(err.Error()), nil
		}
	default:
		return errorResult("either 'plan' or 'path' argument is required"), nil
	}

	if docErrs := plan.ValidateDocument(doc); len(docErrs) > 0 {
		return errorResult(formatDocErrors(docErrs)), nil
	}
	steps, err := plan.Decode(doc)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := h.Engine.ValidateAndRepair(ctx, steps, goal, nil)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: !result.Valid,
	}, nil
}

// HandleSchema implements the planfix/schema MCP tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := plan.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func formatDocErrors(errs []*plan.DocumentError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Path, e.Message))
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
