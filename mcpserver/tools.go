package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/pylingo/execbox/sandbox"
)

// Tool names
const (
	ToolExecutePython = "execute_python"
	ToolExecuteWebApp = "execute_web_app"
	ToolEngineStatus  = "engine_status"
)

// MsgRateLimited is returned when an execution is refused by admission control
const MsgRateLimited = "Too many execution requests, please retry shortly"

// EngineStatus is the payload of the engine_status tool and status route
type EngineStatus struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

var dependenciesSchema = map[string]any{
	"type":        "array",
	"description": "pip requirement lines installed before the run, e.g. \"numpy\" or \"pandas==2.2.0\"",
	"items":       map[string]any{"type": "string"},
}

var timeoutSchema = map[string]any{
	"type":        "integer",
	"description": "Wall-clock limit in seconds (capped at the server maximum)",
	"minimum":     1,
}

func (s *MCPServer) registerExecutePythonTool() {
	tool := mcp.Tool{
		Name:        ToolExecutePython,
		Description: "Run a Python 3.11 program in a fresh, isolated container and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code",
				},
				"dependencies":    dependenciesSchema,
				"timeout_seconds": timeoutSchema,
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecutePython)
}

func (s *MCPServer) registerExecuteWebAppTool() {
	tool := mcp.Tool{
		Name:        ToolExecuteWebApp,
		Description: "Check that a Flask or FastAPI application loads inside an isolated container (fixed time limit)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source defining the application object",
				},
				"framework": map[string]any{
					"type":        "string",
					"description": "Web framework, defaults to flask",
					"enum":        []string{sandbox.FrameworkFlask, sandbox.FrameworkFastAPI},
				},
				"dependencies": dependenciesSchema,
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteWebApp)
}

func (s *MCPServer) registerEngineStatusTool() {
	tool := mcp.Tool{
		Name:        ToolEngineStatus,
		Description: "Report whether the container engine is available for sandboxed execution",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleEngineStatus)
}

func (s *MCPServer) handleExecutePython(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := executionRequest(request)
	if err != nil {
		return nil, err
	}
	req.Kind = sandbox.RequestScript

	return s.execute(ctx, req, s.executor.Execute)
}

func (s *MCPServer) handleExecuteWebApp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := executionRequest(request)
	if err != nil {
		return nil, err
	}
	req.Kind = sandbox.RequestWebService
	req.Framework = request.GetString("framework", sandbox.FrameworkFlask)

	return s.execute(ctx, req, s.executor.ExecuteWebService)
}

func (s *MCPServer) handleEngineStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engineStatus(), false)
}

func (s *MCPServer) engineStatus() EngineStatus {
	return EngineStatus{
		Available: s.executor.IsAvailable(),
		Message:   s.executor.StatusMessage(),
	}
}

type executeFunc func(ctx context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult

func (s *MCPServer) execute(ctx context.Context, req sandbox.ExecutionRequest, run executeFunc) (*mcp.CallToolResult, error) {
	if !s.allow() {
		s.logger.Warn("execution rejected by rate limiter", zap.String("kind", string(req.Kind)))
		return jsonResult(sandbox.ExecutionResult{Error: MsgRateLimited}, true)
	}

	s.logger.Info("code execution requested",
		zap.String("kind", string(req.Kind)),
		zap.Int("code_len", len(req.SourceCode)),
		zap.Strings("dependencies", req.Dependencies),
		zap.Int("timeout_sec", req.TimeoutSec))

	result := run(ctx, req)

	if !result.Success {
		s.logger.Info("code execution failed",
			zap.String("kind", string(req.Kind)),
			zap.Stringer("failure", result.Kind))
	}

	return jsonResult(result, !result.Success)
}

// executionRequest extracts the arguments shared by the execution tools
func executionRequest(request mcp.CallToolRequest) (sandbox.ExecutionRequest, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return sandbox.ExecutionRequest{}, fmt.Errorf("code parameter is required: %w", err)
	}

	deps, err := stringSlice(request.GetArguments()["dependencies"])
	if err != nil {
		return sandbox.ExecutionRequest{}, err
	}

	return sandbox.ExecutionRequest{
		SourceCode:   code,
		Dependencies: deps,
		TimeoutSec:   request.GetInt("timeout_seconds", 0),
	}, nil
}

func stringSlice(v any) ([]string, error) {
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("dependencies must be an array of strings, got element %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dependencies must be an array of strings, got %T", v)
	}
}
