package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// CLIEngine implements Engine by driving a docker-compatible command line
// (docker or podman) through a CommandRunner.
type CLIEngine struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

// CLIEngineOption defines a functional option for CLIEngine
type CLIEngineOption func(*CLIEngine)

// WithCommandRunner sets the CommandRunner for CLIEngine
func WithCommandRunner(cmdRunner CommandRunner) CLIEngineOption {
	return func(c *CLIEngine) {
		c.cmdRunner = cmdRunner
	}
}

// NewCLIEngine creates a CLIEngine for the given binary ("docker" or "podman")
func NewCLIEngine(logger *zap.Logger, binary string, opts ...CLIEngineOption) *CLIEngine {
	engine := &CLIEngine{
		logger:    logger,
		binary:    binary,
		cmdRunner: &RealCommandRunner{}, // Default implementation
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func (c *CLIEngine) Ping(ctx context.Context) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "version"})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s", ErrEngineUnavailable, strings.TrimSpace(stderr))
	}
	return nil
}

func (c *CLIEngine) BuildImage(ctx context.Context, contextDir, tag string) error {
	args := []string{
		c.binary, "build",
		"--quiet",
		"--force-rm",
		"--tag", tag,
		"--file", filepath.Join(contextDir, FilenameDockerfile),
		contextDir,
	}

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return &BuildError{Err: fmt.Errorf("failed to run %s build: %w", c.binary, err)}
	}
	if exitCode != 0 {
		return &BuildError{Log: strings.TrimSpace(stderr), Err: fmt.Errorf("%s build exited with status %d", c.binary, exitCode)}
	}

	return nil
}

func (c *CLIEngine) RunContainer(ctx context.Context, spec RunSpec) (RunOutput, error) {
	args := c.runArgs(spec)

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(runCtx, args)

	// Killing the run client leaves the container behind; stop it by name.
	if runCtx.Err() != nil {
		c.stop(ctx, spec.Name)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return RunOutput{}, ErrTimeout
		}
		return RunOutput{}, fmt.Errorf("container run interrupted: %w", ctx.Err())
	}

	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to execute container: %w", err)
	}

	if isEngineExitCode(exitCode) {
		return RunOutput{}, fmt.Errorf("%s run failed with status %d: %s", c.binary, exitCode, strings.TrimSpace(stderr))
	}

	return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// isEngineExitCode reports the statuses docker and podman reserve for their
// own failures: 125 engine error, 126 command not invokable, 127 command not found.
func isEngineExitCode(code int) bool {
	return code >= 125 && code <= 127
}

func (c *CLIEngine) RemoveImage(ctx context.Context, tag string) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "rmi", "--force", tag})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", tag, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to remove image %s: %s", tag, strings.TrimSpace(stderr))
	}
	return nil
}

// runArgs builds the run command with security restrictions
func (c *CLIEngine) runArgs(spec RunSpec) []string {
	args := []string{
		c.binary, "run",
		"--rm", // Remove container after execution
		"--name", spec.Name,
		"--memory", fmt.Sprintf("%db", spec.MemoryBytes),
		"--memory-swap", fmt.Sprintf("%db", spec.MemoryBytes),
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
	}

	if spec.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", spec.PidsLimit))
	}

	if spec.NetworkDisabled {
		args = append(args, "--network", "none")
	}

	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	return args
}

// stop kills a container that outlived its run and force-removes it in case
// --rm never got the chance to.
func (c *CLIEngine) stop(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerCleanupTimeout)
	defer cancel()

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "kill", name})
	if err != nil || exitCode != 0 {
		c.logger.Warn("failed to kill container",
			zap.String("container", name),
			zap.String("stderr", strings.TrimSpace(stderr)),
			zap.Error(err))
	}

	_, stderr, exitCode, err = c.cmdRunner.RunCommand(ctx, []string{c.binary, "rm", "--force", name})
	if err != nil || exitCode != 0 {
		c.logger.Debug("container already removed",
			zap.String("container", name),
			zap.String("stderr", strings.TrimSpace(stderr)),
			zap.Error(err))
	}
}

var (
	_ Engine = (*CLIEngine)(nil)
	_ Engine = (*DockerEngine)(nil)
)
