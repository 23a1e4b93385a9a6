package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies the outcome of an execution
type Kind int

const (
	KindNone Kind = iota
	KindEngineUnavailable
	KindEmptyInput
	KindInvalidRequest
	KindBuildError
	KindRuntimeError
	KindTimeout
	KindInfrastructure
)

var kindNames = map[Kind]string{
	KindNone:              "none",
	KindEngineUnavailable: "engine_unavailable",
	KindEmptyInput:        "empty_input",
	KindInvalidRequest:    "invalid_request",
	KindBuildError:        "build_error",
	KindRuntimeError:      "runtime_error",
	KindTimeout:           "timeout",
	KindInfrastructure:    "infrastructure_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown execution kind: %q", text)
}

// Fixed user-facing messages
const (
	MsgNoCode                = "No code provided"
	MsgEngineUnavailable     = "Docker execution is not available on this server. Please use browser execution for this lesson."
	MsgWebEngineUnavailable  = "Docker execution is not available. Web app lessons require Docker."
	MsgStatusAvailable       = "Docker available for advanced Python lessons"
	MsgStatusUnavailable     = "Docker not available - advanced lessons will be limited"
	msgBuildFailedPrefix     = "Failed to build Docker image: "
	msgExecutionFailedPrefix = "Execution failed: "
)

// Failure is a classified execution failure. It is the only error type that
// crosses the orchestrator boundary.
type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// NewFailure creates a Failure of the given kind
func NewFailure(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error produced while executing to a Failure.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	var buildErr *BuildError
	switch {
	case errors.As(err, &buildErr):
		return &Failure{Kind: KindBuildError, Message: msgBuildFailedPrefix + buildErr.Error()}
	case errors.Is(err, ErrTimeout):
		return &Failure{Kind: KindTimeout, Message: "Execution timed out"}
	case errors.Is(err, ErrEngineUnavailable):
		return &Failure{Kind: KindEngineUnavailable, Message: MsgEngineUnavailable}
	default:
		return &Failure{Kind: KindInfrastructure, Message: msgExecutionFailedPrefix + err.Error()}
	}
}

// ClassifyRun maps a completed container run to a Failure, or nil when the
// program exited cleanly.
func ClassifyRun(out RunOutput) *Failure {
	if out.ExitCode == 0 {
		return nil
	}

	msg := strings.TrimSpace(out.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(out.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("Process exited with status %d", out.ExitCode)
	}

	return &Failure{Kind: KindRuntimeError, Message: msg}
}

// ExecutionResult is the uniform outcome returned to callers
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
	Kind    Kind   `json:"kind,omitempty"`
}

// Succeeded builds a successful result from captured container output.
func Succeeded(out RunOutput) ExecutionResult {
	output := strings.TrimSpace(out.Stdout)
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += stderr
	}
	return ExecutionResult{Success: true, Output: output}
}

// Failed builds a failed result from a Failure
func Failed(f *Failure) ExecutionResult {
	return ExecutionResult{Success: false, Error: f.Message, Kind: f.Kind}
}

// Err returns the classified failure carried by the result, or nil on success.
func (r ExecutionResult) Err() *Failure {
	if r.Success {
		return nil
	}
	return &Failure{Kind: r.Kind, Message: r.Error}
}
