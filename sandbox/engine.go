package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Engine.RunContainer when the container was killed
// because it outlived RunSpec.Timeout.
var ErrTimeout = errors.New("container run timed out")

// ErrEngineUnavailable is returned when the container engine cannot be reached.
var ErrEngineUnavailable = errors.New("container engine unavailable")

// Engine is the container runtime used to build and run ephemeral images.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error
	// BuildImage builds contextDir (which holds a Dockerfile) and tags the result.
	// Build failures carry the engine's build log in the error message.
	BuildImage(ctx context.Context, contextDir, tag string) error
	// RunContainer runs one container to completion and captures its output.
	// A non-zero exit status is not an error; it is reported in RunOutput.ExitCode.
	RunContainer(ctx context.Context, spec RunSpec) (RunOutput, error)
	// RemoveImage force-removes the tagged image.
	RemoveImage(ctx context.Context, tag string) error
}

// RunSpec describes a single container run
type RunSpec struct {
	Image           string
	Name            string
	Command         []string
	MemoryBytes     int64
	NetworkDisabled bool
	PidsLimit       int64
	Timeout         time.Duration
}

// RunOutput holds the captured streams of a finished container
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// BuildError wraps an engine-side image build failure.
type BuildError struct {
	Log string
	Err error
}

func (e *BuildError) Error() string {
	if e.Log != "" {
		return e.Log
	}
	if e.Err == nil {
		return "image build failed"
	}
	return e.Err.Error()
}

func (e *BuildError) Unwrap() error { return e.Err }
