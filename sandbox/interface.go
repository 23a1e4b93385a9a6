package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. A non-zero exit status
// is reported through exitCode, not err. Each stream keeps at most
// MaxOutputBytes.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	stdoutBuf := &cappedBuffer{limit: MaxOutputBytes}
	stderrBuf := &cappedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// FilePermission keeps build context files readable by the engine daemon,
// which may run as a different user.
const FilePermission = 0644

// Build context filenames
const (
	FilenameSource     = "main.py"
	FilenameManifest   = "requirements.txt"
	FilenameDockerfile = "Dockerfile"
)

// RunCommand is the fixed container entrypoint.
var RunCommand = []string{"python", FilenameSource}
