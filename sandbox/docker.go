package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	archive "github.com/moby/go-archive"
	"go.uber.org/zap"
)

// MaxOutputBytes caps each captured container stream
const MaxOutputBytes = 1024 * 1024

const containerCleanupTimeout = 30 * time.Second

// DockerEngine implements Engine on top of the Docker Engine API
type DockerEngine struct {
	logger *zap.Logger
	cli    *client.Client
}

// NewDockerEngine creates a Docker API client from the standard environment
// (DOCKER_HOST, DOCKER_CERT_PATH, ...). No connection is made until first use.
func NewDockerEngine(logger *zap.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{logger: logger, cli: cli}, nil
}

// Close releases the underlying client
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

func (d *DockerEngine) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return nil
}

func (d *DockerEngine) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := d.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  FilenameDockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return &BuildError{Err: err}
	}
	defer resp.Body.Close()

	// Build failures arrive inside the progress stream, not as a request error.
	var buildLog bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &buildLog, 0, false, nil); err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return &BuildError{Log: strings.TrimSpace(jsonErr.Message), Err: err}
		}
		return &BuildError{Err: fmt.Errorf("failed to read build output: %w", err)}
	}

	d.logger.Debug("image built", zap.String("image", tag), zap.Int("log_len", buildLog.Len()))
	return nil
}

func (d *DockerEngine) RunContainer(ctx context.Context, spec RunSpec) (RunOutput, error) {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Command,
		Tty:             false,
		OpenStdin:       false,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: spec.NetworkDisabled,
	}, dockerHostConfig(spec), nil, nil, spec.Name)
	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to create container: %w", err)
	}
	defer d.removeContainer(ctx, resp.ID)

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return RunOutput{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			d.kill(ctx, resp.ID)
			return RunOutput{}, ErrTimeout
		}
		return RunOutput{}, fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return RunOutput{}, fmt.Errorf("container wait error: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := d.collectLogs(ctx, resp.ID)
	if err != nil {
		return RunOutput{}, err
	}

	return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (d *DockerEngine) RemoveImage(ctx context.Context, tag string) error {
	_, err := d.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", tag, err)
	}
	return nil
}

func (d *DockerEngine) collectLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	outBuf := &cappedBuffer{limit: MaxOutputBytes}
	errBuf := &cappedBuffer{limit: MaxOutputBytes}
	if _, err := stdcopy.StdCopy(outBuf, errBuf, logs); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	return outBuf.String(), errBuf.String(), nil
}

func (d *DockerEngine) kill(ctx context.Context, containerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerCleanupTimeout)
	defer cancel()

	if err := d.cli.ContainerKill(ctx, containerID, "KILL"); err != nil {
		d.logger.Warn("failed to kill container after timeout", zap.String("container", containerID), zap.Error(err))
	}
}

func (d *DockerEngine) removeContainer(ctx context.Context, containerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerCleanupTimeout)
	defer cancel()

	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		d.logger.Warn("failed to remove container", zap.String("container", containerID), zap.Error(err))
	}
}

func dockerHostConfig(spec RunSpec) *container.HostConfig {
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // No swap allowed
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
	}

	if spec.PidsLimit > 0 {
		pidsLimit := spec.PidsLimit
		hostConfig.Resources.PidsLimit = &pidsLimit
	}

	if spec.NetworkDisabled {
		hostConfig.NetworkMode = "none"
	}

	return hostConfig
}

// cappedBuffer keeps the first limit bytes written and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
