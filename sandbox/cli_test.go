package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCLIEngineRunArgs(t *testing.T) {
	engine := NewCLIEngine(zaptest.NewLogger(t), "podman")

	t.Run("NetworkDisabled", func(t *testing.T) {
		args := engine.runArgs(RunSpec{
			Image:           "pylingo-exec-abc",
			Name:            "pylingo-exec-abc",
			Command:         RunCommand,
			MemoryBytes:     128 * MiB,
			NetworkDisabled: true,
			PidsLimit:       64,
		})

		expected := []string{
			"podman", "run",
			"--rm",
			"--name", "pylingo-exec-abc",
			"--memory", "134217728b",
			"--memory-swap", "134217728b",
			"--security-opt", "no-new-privileges",
			"--cap-drop", "ALL",
			"--pids-limit", "64",
			"--network", "none",
			"pylingo-exec-abc", "python", "main.py",
		}
		assert.Equal(t, expected, args)
	})

	t.Run("NetworkEnabled", func(t *testing.T) {
		args := engine.runArgs(RunSpec{Image: "img", Name: "img", Command: RunCommand, MemoryBytes: 512 * MiB})

		assert.NotContains(t, args, "--network")
		assert.NotContains(t, args, "--pids-limit")
		assert.Equal(t, []string{"img", "python", "main.py"}, args[len(args)-3:])
	})
}

func TestCLIEngineBuildImage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		runner := &MockCommandRunner{}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		require.NoError(t, engine.BuildImage(context.Background(), "/tmp/ctx", "pylingo-exec-1"))

		calls := runner.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{
			"docker", "build", "--quiet", "--force-rm",
			"--tag", "pylingo-exec-1",
			"--file", "/tmp/ctx/Dockerfile",
			"/tmp/ctx",
		}, calls[0])
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"docker build": {stderr: "ERROR: No matching distribution found for nonexistent-pkg\n", exitCode: 1},
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		err := engine.BuildImage(context.Background(), "/tmp/ctx", "tag")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Equal(t, "ERROR: No matching distribution found for nonexistent-pkg", buildErr.Error())
	})

	t.Run("BinaryMissing", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{err: errors.New("executable file not found in $PATH")}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "podman", WithCommandRunner(runner))

		err := engine.BuildImage(context.Background(), "/tmp/ctx", "tag")
		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Contains(t, err.Error(), "failed to run podman build")
	})
}

func TestCLIEngineRunContainer(t *testing.T) {
	spec := RunSpec{Image: "img", Name: "img", Command: RunCommand, MemoryBytes: 128 * MiB, Timeout: time.Second}

	t.Run("CapturesOutput", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"docker run": {stdout: "5\n", stderr: "warn\n", exitCode: 0},
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		out, err := engine.RunContainer(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, RunOutput{Stdout: "5\n", Stderr: "warn\n"}, out)
	})

	t.Run("NonZeroExitIsNotAnError", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"docker run": {stderr: "NameError: name 'x' is not defined\n", exitCode: 1},
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		out, err := engine.RunContainer(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, 1, out.ExitCode)
		assert.Contains(t, out.Stderr, "NameError")
	})

	t.Run("Timeout", func(t *testing.T) {
		runner := &MockCommandRunner{hook: func(ctx context.Context, args []string) (commandResult, bool) {
			if args[1] != "run" {
				return commandResult{}, false
			}
			<-ctx.Done()
			return commandResult{err: ctx.Err()}, true
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		short := spec
		short.Timeout = 50 * time.Millisecond
		_, err := engine.RunContainer(context.Background(), short)
		require.ErrorIs(t, err, ErrTimeout)

		calls := runner.recorded()
		require.Len(t, calls, 3)
		assert.Equal(t, []string{"docker", "kill", "img"}, calls[1])
		assert.Equal(t, []string{"docker", "rm", "--force", "img"}, calls[2])
	})

	t.Run("CallerCancelled", func(t *testing.T) {
		started := make(chan struct{})
		runner := &MockCommandRunner{hook: func(ctx context.Context, args []string) (commandResult, bool) {
			if args[1] != "run" {
				return commandResult{}, false
			}
			close(started)
			<-ctx.Done()
			// a killed client process reports a signal exit, not an error
			return commandResult{exitCode: -1}, true
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "podman", WithCommandRunner(runner))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		_, err := engine.RunContainer(ctx, spec)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, KindInfrastructure, Classify(err).Kind)

		calls := runner.recorded()
		require.Len(t, calls, 3)
		assert.Equal(t, []string{"podman", "kill", "img"}, calls[1])
		assert.Equal(t, []string{"podman", "rm", "--force", "img"}, calls[2])
	})

	t.Run("CallerDeadlineBeforeRunTimeout", func(t *testing.T) {
		runner := &MockCommandRunner{hook: func(ctx context.Context, args []string) (commandResult, bool) {
			if args[1] != "run" {
				return commandResult{}, false
			}
			<-ctx.Done()
			return commandResult{exitCode: -1}, true
		}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		long := spec
		long.Timeout = time.Minute
		_, err := engine.RunContainer(ctx, long)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Len(t, runner.recorded(), 3)
	})

	t.Run("EngineExitCodes", func(t *testing.T) {
		for _, code := range []int{125, 126, 127} {
			runner := &MockCommandRunner{commandResults: map[string]commandResult{
				"docker run": {stderr: "docker: Error response from daemon: No such image: img\n", exitCode: code},
			}}
			engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

			_, err := engine.RunContainer(context.Background(), spec)
			require.Error(t, err, code)
			assert.Equal(t, KindInfrastructure, Classify(err).Kind)
			assert.Contains(t, err.Error(), "No such image")
		}
	})

	t.Run("RunnerError", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{err: errors.New("fork/exec: resource temporarily unavailable")}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		_, err := engine.RunContainer(context.Background(), spec)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "failed to execute container")
	})
}

func TestCLIEnginePing(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		runner := &MockCommandRunner{}
		engine := NewCLIEngine(zaptest.NewLogger(t), "podman", WithCommandRunner(runner))

		require.NoError(t, engine.Ping(context.Background()))
		assert.Equal(t, [][]string{{"podman", "version"}}, runner.recorded())
	})

	t.Run("DaemonDown", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{stderr: "Cannot connect to the Docker daemon", exitCode: 1}}
		engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

		err := engine.Ping(context.Background())
		require.ErrorIs(t, err, ErrEngineUnavailable)
		assert.Contains(t, err.Error(), "Cannot connect")
	})
}

func TestCLIEngineRemoveImage(t *testing.T) {
	runner := &MockCommandRunner{}
	engine := NewCLIEngine(zaptest.NewLogger(t), "docker", WithCommandRunner(runner))

	require.NoError(t, engine.RemoveImage(context.Background(), "pylingo-exec-1"))
	assert.Equal(t, [][]string{{"docker", "rmi", "--force", "pylingo-exec-1"}}, runner.recorded())

	runner.defaultResult = commandResult{stderr: "No such image", exitCode: 1}
	err := engine.RemoveImage(context.Background(), "pylingo-exec-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such image")
}

func TestRealCommandRunnerCapsOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	stdout, stderr, exitCode, err := RealCommandRunner{}.RunCommand(context.Background(),
		[]string{"sh", "-c", "head -c 3000000 /dev/zero | tr '\\0' a; echo done >&2"})
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Len(t, stdout, MaxOutputBytes+len("\n[output truncated]"))
	assert.True(t, strings.HasSuffix(stdout, "\n[output truncated]"))
	assert.Equal(t, "done\n", stderr)
}
