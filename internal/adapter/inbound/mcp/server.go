// Package mcp exposes registered actions as MCP tools so AI agents can invoke
// them. Every tool call is dispatched through the action pipeline with the
// configured agent identity as an ai-agent caller.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/appshell/appshell/internal/domain/action"
)

// Dispatcher runs an action through the dispatch pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, actionID string, rawInput any, caller action.Caller) action.Result
}

// schemaSource is implemented by input schemas backed by a JSON Schema document.
type schemaSource interface {
	Source() string
}

// Server is an MCP server whose tools are the registered actions.
type Server struct {
	server     *sdkmcp.Server
	dispatcher Dispatcher
	caller     action.Caller
	logger     *slog.Logger
}

// NewServer builds an MCP server with one tool per action in registry.
// caller is the agent identity; its type is always ai-agent.
func NewServer(registry *action.Registry, dispatcher Dispatcher, caller action.Caller, logger *slog.Logger, version string) *Server {
	caller.Type = action.CallerAIAgent
	s := &Server{
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    "appshell",
			Version: version,
		}, nil),
		dispatcher: dispatcher,
		caller:     caller,
		logger:     logger,
	}
	for _, def := range registry.All() {
		s.addTool(def)
	}
	return s
}

// Run serves the MCP protocol on transport until the context is cancelled
// or the client disconnects.
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	s.logger.Info("serving MCP", "tenant", s.caller.TenantID, "user", s.caller.UserID)
	return s.server.Run(ctx, transport)
}

// Connect starts a session on transport without blocking.
func (s *Server) Connect(ctx context.Context, transport sdkmcp.Transport) (*sdkmcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

func (s *Server) addTool(def action.Definition) {
	description := def.Description
	if description == "" {
		description = def.Name
	}
	tool := &sdkmcp.Tool{
		Name:        def.ID,
		Title:       def.Name,
		Description: description,
		InputSchema: toolInputSchema(def.InputSchema),
		Annotations: &sdkmcp.ToolAnnotations{IdempotentHint: def.Idempotent},
	}
	actionID := def.ID
	s.server.AddTool(tool, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.callAction(ctx, actionID, req.Params.Arguments)
	})
}

func (s *Server) callAction(ctx context.Context, actionID string, arguments json.RawMessage) (*sdkmcp.CallToolResult, error) {
	input := map[string]any{}
	if len(arguments) > 0 && string(arguments) != "null" {
		if err := json.Unmarshal(arguments, &input); err != nil {
			return errorResult(fmt.Sprintf("arguments must be a JSON object: %v", err)), nil
		}
	}

	result := s.dispatcher.Dispatch(ctx, actionID, input, s.caller)
	body, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode tool result", "action", actionID, "error", err)
		return errorResult("failed to encode result"), nil
	}

	var structured map[string]any
	_ = json.Unmarshal(body, &structured)
	return &sdkmcp.CallToolResult{
		Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: string(body)}},
		StructuredContent: structured,
		IsError:           !result.Success,
	}, nil
}

func errorResult(msg string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// toolInputSchema returns the action's JSON Schema when it describes an
// object, otherwise an open object schema.
func toolInputSchema(s any) map[string]any {
	open := map[string]any{"type": "object", "additionalProperties": true}
	src, ok := s.(schemaSource)
	if !ok {
		return open
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(src.Source()), &doc); err != nil {
		return open
	}
	if doc["type"] != "object" {
		return open
	}
	return doc
}
