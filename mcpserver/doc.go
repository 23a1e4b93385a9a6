// Package mcpserver exposes the sandbox orchestrator to clients.
//
// It registers three Model Context Protocol tools on a mark3labs/mcp-go server:
// execute_python, execute_web_app and engine_status. Tool results are the
// JSON-encoded sandbox.ExecutionResult; failed executions set IsError.
//
// The server runs on stdio or HTTP as configured. The HTTP transport is a chi
// router serving the streamable MCP endpoint on /mcp together with
// /api/engine/status (also /api/docker/status), /api/execute/docker,
// /api/execute/webapp, /healthz and /metrics. Executions on either transport share one optional token-bucket
// rate limiter.
//
// Usage:
//
//	srv, err := mcpserver.New(cfg, logger, orchestrator, registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.ServeStdio() // or srv.ServeHTTP()
package mcpserver
