package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MockEngine implements Engine for testing
type MockEngine struct {
	mu sync.Mutex

	pingErr   error
	buildErr  error
	runOutput RunOutput
	runErr    error
	removeErr error
	runHook   func(ctx context.Context, spec RunSpec) (RunOutput, error)

	pings    int
	builds   []string
	contexts map[string]map[string]string
	dirs     []string
	runs     []RunSpec
	removed  []string
}

func (m *MockEngine) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *MockEngine) BuildImage(_ context.Context, contextDir, tag string) error {
	files := map[string]string{}
	entries, err := os.ReadDir(contextDir)
	if err != nil {
		return fmt.Errorf("mock build could not read context: %w", err)
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(contextDir, entry.Name()))
		if err != nil {
			return err
		}
		files[entry.Name()] = string(data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds = append(m.builds, tag)
	m.dirs = append(m.dirs, contextDir)
	if m.contexts == nil {
		m.contexts = map[string]map[string]string{}
	}
	m.contexts[tag] = files
	return m.buildErr
}

func (m *MockEngine) RunContainer(ctx context.Context, spec RunSpec) (RunOutput, error) {
	m.mu.Lock()
	m.runs = append(m.runs, spec)
	hook := m.runHook
	out, err := m.runOutput, m.runErr
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, spec)
	}
	return out, err
}

func (m *MockEngine) RemoveImage(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, tag)
	return m.removeErr
}

func (m *MockEngine) calls() (builds, runs, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.builds), len(m.runs), len(m.removed)
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu sync.Mutex

	commandResults map[string]commandResult
	defaultResult  commandResult
	hook           func(ctx context.Context, args []string) (commandResult, bool)

	calls [][]string
}

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if result, ok := hook(ctx, args); ok {
			return result.stdout, result.stderr, result.exitCode, result.err
		}
	}

	// Keyed by subcommand, e.g. "podman build"
	if len(args) >= 2 {
		if result, exists := m.commandResults[strings.Join(args[:2], " ")]; exists {
			return result.stdout, result.stderr, result.exitCode, result.err
		}
	}

	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) recorded() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mkdirTempErr    error
	writeFileErrors map[string]error
	removeAllErr    error

	mkdirTempCalls int
	writeFileData  map[string][]byte
	removed        []string
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	m.mkdirTempCalls++
	if m.mkdirTempErr != nil {
		return "", m.mkdirTempErr
	}
	return "/tmp/execbox-ctx-test", nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if err, exists := m.writeFileErrors[filepath.Base(filename)]; exists {
		return err
	}
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	return m.removeAllErr
}
