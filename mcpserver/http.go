package mcpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pylingo/execbox/sandbox"
)

// maxRequestBytes bounds REST execution payloads
const maxRequestBytes = 1 << 20

// scriptRequest is the body of POST /api/execute/docker
type scriptRequest struct {
	Code         string   `json:"code"`
	Requirements []string `json:"requirements"`
	Timeout      int      `json:"timeout"`
}

// webAppRequest is the body of POST /api/execute/webapp
type webAppRequest struct {
	Code         string   `json:"code"`
	AppType      string   `json:"app_type"`
	Requirements []string `json:"requirements"`
}

// Router builds the HTTP transport: the streamable MCP endpoint plus plain
// JSON routes for status, health and metrics. /api/docker/status is kept for
// clients of the older route name.
func (s *MCPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Handle("/mcp", server.NewStreamableHTTPServer(s.mcpServer))

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/engine/status", s.handleStatus)
		r.Get("/docker/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/execute/docker", s.handleRESTExecuteScript)
			r.Post("/execute/webapp", s.handleRESTExecuteWebApp)
		})
	})

	return r
}

func (s *MCPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *MCPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engineStatus())
}

func (s *MCPServer) handleRESTExecuteScript(w http.ResponseWriter, r *http.Request) {
	var body scriptRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result := s.executor.Execute(r.Context(), sandbox.ExecutionRequest{
		SourceCode:   body.Code,
		Dependencies: body.Requirements,
		TimeoutSec:   body.Timeout,
		Kind:         sandbox.RequestScript,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *MCPServer) handleRESTExecuteWebApp(w http.ResponseWriter, r *http.Request) {
	var body webAppRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result := s.executor.ExecuteWebService(r.Context(), sandbox.ExecutionRequest{
		SourceCode:   body.Code,
		Dependencies: body.Requirements,
		Kind:         sandbox.RequestWebService,
		Framework:    body.AppType,
	})
	writeJSON(w, http.StatusOK, result)
}

// rateLimit rejects executions beyond the configured token bucket
func (s *MCPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow() {
			s.logger.Warn("execution rejected by rate limiter", zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusTooManyRequests, sandbox.ExecutionResult{Error: MsgRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *MCPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.ExecutionResult{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
