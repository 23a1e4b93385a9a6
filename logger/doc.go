// Package logger provides structured logging capabilities.
//
// Logs always go to stderr: when the MCP server runs over stdio, stdout carries
// the protocol stream.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("engine checked", zap.Bool("available", true))
package logger
