// Package sandbox runs untrusted Python snippets in throwaway container images.
//
// Every execution gets its own build context directory (main.py, an optional
// requirements.txt and a generated Dockerfile) and its own uniquely tagged
// image. The Orchestrator builds the image, runs one container with the memory
// ceiling and network decision computed by the Resolver, captures its output
// and removes the image and build context on every exit path. Failures are
// reported as a closed set of Kind values inside ExecutionResult; Execute never
// returns an error.
//
// Two Engine implementations are provided: DockerEngine talks to the Docker
// Engine API, CLIEngine drives a docker or podman binary.
//
// Usage:
//
//	engine, err := sandbox.NewDockerEngine(logger)
//	orch := sandbox.NewOrchestrator(logger, engine, sandbox.DefaultConfig())
//	result := orch.Execute(ctx, sandbox.ExecutionRequest{
//	    SourceCode: "print(2 + 3)",
//	})
package sandbox
