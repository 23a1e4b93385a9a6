package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pylingo/execbox/config"
	"github.com/pylingo/execbox/sandbox"
)

// MockExecutor implements Executor for testing
type MockExecutor struct {
	mu sync.Mutex

	available bool
	result    sandbox.ExecutionResult
	requests  []sandbox.ExecutionRequest
	webCalls  int
}

func (m *MockExecutor) Execute(_ context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult { //nolint:gocritic // matches Executor
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result
}

func (m *MockExecutor) ExecuteWebService(_ context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult { //nolint:gocritic // matches Executor
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webCalls++
	m.requests = append(m.requests, req)
	return m.result
}

func (m *MockExecutor) IsAvailable() bool {
	return m.available
}

func (m *MockExecutor) StatusMessage() string {
	if m.available {
		return sandbox.MsgStatusAvailable
	}
	return sandbox.MsgStatusUnavailable
}

func (m *MockExecutor) lastRequest(t *testing.T) sandbox.ExecutionRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport:      "http",
			HTTPPort:       8080,
			RateLimitBurst: 1,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, executor *MockExecutor) *MCPServer {
	t.Helper()
	s, err := New(cfg, zaptest.NewLogger(t), executor, nil)
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func TestNewMCPServer(t *testing.T) {
	cfg := testConfig()
	executor := &MockExecutor{available: true}

	s := newTestServer(t, cfg, executor)
	assert.Equal(t, cfg, s.config)
	assert.Equal(t, executor, s.executor)
	assert.NotNil(t, s.GetMCPServer())
	assert.Nil(t, s.limiter, "rate limiting disabled by default")

	_, err := New(cfg, zaptest.NewLogger(t), nil, nil)
	assert.Error(t, err)
}

func TestServeHTTPShutdown(t *testing.T) {
	newServer := func(t *testing.T) *MCPServer {
		cfg := testConfig()
		cfg.Server.HTTPPort = 0
		return newTestServer(t, cfg, &MockExecutor{})
	}

	t.Run("ShutdownBeforeServe", func(t *testing.T) {
		s := newServer(t)
		require.NoError(t, s.Shutdown(context.Background()))
		assert.NoError(t, s.ServeHTTP())
	})

	t.Run("ConcurrentShutdown", func(t *testing.T) {
		s := newServer(t)

		done := make(chan error, 1)
		go func() {
			done <- s.ServeHTTP()
		}()

		require.NoError(t, s.Shutdown(context.Background()))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("ServeHTTP did not return after Shutdown")
		}
	})
}

func TestToolsRegistered(t *testing.T) {
	s := newTestServer(t, testConfig(), &MockExecutor{})

	tools := s.GetMCPServer().ListTools()
	assert.Contains(t, tools, ToolExecutePython)
	assert.Contains(t, tools, ToolExecuteWebApp)
	assert.Contains(t, tools, ToolEngineStatus)
	assert.Equal(t, []string{"code"}, tools[ToolExecutePython].Tool.InputSchema.Required)
	assert.Contains(t, tools[ToolExecutePython].Tool.InputSchema.Properties, "timeout_seconds")
	assert.NotContains(t, tools[ToolExecuteWebApp].Tool.InputSchema.Properties, "timeout_seconds")
}

func TestHandleExecutePython(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		executor := &MockExecutor{available: true, result: sandbox.ExecutionResult{Success: true, Output: "5"}}
		s := newTestServer(t, testConfig(), executor)

		result, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, map[string]any{
			"code":            "print(2 + 3)",
			"dependencies":    []any{"numpy", "pandas==2.2.0"},
			"timeout_seconds": float64(10),
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var payload sandbox.ExecutionResult
		decodeResult(t, result, &payload)
		assert.True(t, payload.Success)
		assert.Equal(t, "5", payload.Output)

		req := executor.lastRequest(t)
		assert.Equal(t, "print(2 + 3)", req.SourceCode)
		assert.Equal(t, []string{"numpy", "pandas==2.2.0"}, req.Dependencies)
		assert.Equal(t, 10, req.TimeoutSec)
		assert.Equal(t, sandbox.RequestScript, req.Kind)
	})

	t.Run("FailureSetsIsError", func(t *testing.T) {
		executor := &MockExecutor{available: true, result: sandbox.Failed(&sandbox.Failure{
			Kind:    sandbox.KindTimeout,
			Message: "Execution timed out after 5 seconds",
		})}
		s := newTestServer(t, testConfig(), executor)

		result, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, map[string]any{
			"code": "while True: pass",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)

		var payload map[string]any
		decodeResult(t, result, &payload)
		assert.Equal(t, false, payload["success"])
		assert.Equal(t, "timeout", payload["kind"])
		assert.Equal(t, "Execution timed out after 5 seconds", payload["error"])
	})

	t.Run("MissingCode", func(t *testing.T) {
		s := newTestServer(t, testConfig(), &MockExecutor{})

		_, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, map[string]any{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code parameter is required")
	})

	t.Run("MalformedDependencies", func(t *testing.T) {
		s := newTestServer(t, testConfig(), &MockExecutor{})

		_, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, map[string]any{
			"code":         "print(1)",
			"dependencies": []any{"numpy", 3},
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dependencies must be an array of strings")
	})
}

func TestHandleExecuteWebApp(t *testing.T) {
	executor := &MockExecutor{available: true, result: sandbox.ExecutionResult{Success: true, Output: "Web app created successfully!"}}
	s := newTestServer(t, testConfig(), executor)

	t.Run("DefaultFramework", func(t *testing.T) {
		result, err := s.handleExecuteWebApp(context.Background(), callRequest(ToolExecuteWebApp, map[string]any{
			"code": "from flask import Flask\napp = Flask(__name__)",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		req := executor.lastRequest(t)
		assert.Equal(t, sandbox.RequestWebService, req.Kind)
		assert.Equal(t, sandbox.FrameworkFlask, req.Framework)
	})

	t.Run("FastAPI", func(t *testing.T) {
		_, err := s.handleExecuteWebApp(context.Background(), callRequest(ToolExecuteWebApp, map[string]any{
			"code":      "from fastapi import FastAPI\napp = FastAPI()",
			"framework": "fastapi",
		}))
		require.NoError(t, err)
		assert.Equal(t, sandbox.FrameworkFastAPI, executor.lastRequest(t).Framework)
	})

	assert.Equal(t, 2, executor.webCalls)
}

func TestHandleEngineStatus(t *testing.T) {
	for _, available := range []bool{true, false} {
		s := newTestServer(t, testConfig(), &MockExecutor{available: available})

		result, err := s.handleEngineStatus(context.Background(), callRequest(ToolEngineStatus, nil))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var status EngineStatus
		decodeResult(t, result, &status)
		assert.Equal(t, available, status.Available)
		if available {
			assert.Equal(t, sandbox.MsgStatusAvailable, status.Message)
		} else {
			assert.Equal(t, sandbox.MsgStatusUnavailable, status.Message)
		}
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 1

	executor := &MockExecutor{available: true, result: sandbox.ExecutionResult{Success: true, Output: "ok"}}
	s := newTestServer(t, cfg, executor)
	require.NotNil(t, s.limiter)

	args := map[string]any{"code": "print('ok')"}

	first, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, args))
	require.NoError(t, err)
	assert.False(t, first.IsError)

	second, err := s.handleExecutePython(context.Background(), callRequest(ToolExecutePython, args))
	require.NoError(t, err)
	assert.True(t, second.IsError)

	var payload sandbox.ExecutionResult
	decodeResult(t, second, &payload)
	assert.Equal(t, MsgRateLimited, payload.Error)

	executor.mu.Lock()
	assert.Len(t, executor.requests, 1, "rejected call must not reach the executor")
	executor.mu.Unlock()

	// status is never rate limited
	status, err := s.handleEngineStatus(context.Background(), callRequest(ToolEngineStatus, nil))
	require.NoError(t, err)
	assert.False(t, status.IsError)
}

func TestStringSlice(t *testing.T) {
	out, err := stringSlice(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = stringSlice([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out)

	_, err = stringSlice("numpy")
	assert.Error(t, err)
}
