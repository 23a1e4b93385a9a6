// Package main is the entry point for the execbox server.
//
// execbox runs untrusted Python programs for a learning platform. Each request
// gets a freshly built container image with its pip dependencies, a memory
// ceiling chosen from the dependency list, and network access only when a
// dependency may need it. Results are served to MCP clients over stdio or HTTP.
//
// Commands:
//
//	execbox serve              start the server (fx application)
//	execbox run main.py        execute one file and print the JSON result
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
