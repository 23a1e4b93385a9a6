package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pylingo/execbox/config"
	"github.com/pylingo/execbox/sandbox"
)

// Version is reported to MCP clients during initialization
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Executor runs execution requests. *sandbox.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult
	ExecuteWebService(ctx context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult
	IsAvailable() bool
	StatusMessage() string
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   Executor
	gatherer   prometheus.Gatherer
	limiter    *rate.Limiter
	mcpServer  *server.MCPServer
	httpServer *http.Server
}

// New creates a new MCPServer. gatherer backs the /metrics route of the HTTP
// transport and may be nil.
func New(cfg *config.Config, logger *zap.Logger, executor Executor, gatherer prometheus.Gatherer) (*MCPServer, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}

	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		gatherer: gatherer,
	}

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), cfg.Server.RateLimitBurst)
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Float64("server.rate_limit_rps", cfg.Server.RateLimitRPS),
		zap.Int("server.rate_limit_burst", cfg.Server.RateLimitBurst),
		zap.Bool("engine_available", executor.IsAvailable()),
	)

	s.mcpServer = server.NewMCPServer("execbox", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerExecutePythonTool()
	s.registerExecuteWebAppTool()
	s.registerEngineStatusTool()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// allow reports whether an execution may start now
func (s *MCPServer) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP and blocks until Shutdown is called
func (s *MCPServer) ServeHTTP() error {
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP transport. Calling it before ServeHTTP makes a later
// ServeHTTP return immediately.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
		IsError: isError,
	}, nil
}
