// Package config provides application configuration management.
//
// The config package loads the service configuration from config.yaml (current
// directory or ./config) with EXECBOX_* environment overrides, and validates
// server, sandbox and logging settings. Every key has a default, so a missing
// file yields a working docker-backed configuration.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
