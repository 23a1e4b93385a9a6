package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// RecipeConfig controls the generated Dockerfile
type RecipeConfig struct {
	BaseImage      string
	SystemPackages []string
	RunnerUser     string
	RunnerUID      int
}

// DefaultRecipe returns the python:3.11-slim recipe with the numeric toolchain
func DefaultRecipe() RecipeConfig {
	return RecipeConfig{
		BaseImage:      "python:3.11-slim",
		SystemPackages: []string{"gcc", "g++", "gfortran", "libopenblas-dev", "liblapack-dev"},
		RunnerUser:     "runner",
		RunnerUID:      1000,
	}
}

// Workspace is the per-request build context directory
type Workspace struct {
	Dir         string
	HasManifest bool

	fs     FileSystem
	logger *zap.Logger
}

// PrepareWorkspace materializes a fresh build context holding the source, an
// optional requirements manifest and the Dockerfile. The caller owns the
// returned Workspace and must Close it.
func PrepareWorkspace(fs FileSystem, logger *zap.Logger, recipe RecipeConfig, source string, deps []string) (*Workspace, error) {
	dir, err := fs.MkdirTemp("", "execbox-ctx-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	ws := &Workspace{Dir: dir, HasManifest: len(deps) > 0, fs: fs, logger: logger}
	if err := ws.populate(recipe, source, deps); err != nil {
		_ = ws.Close()
		return nil, err
	}

	return ws, nil
}

func (w *Workspace) populate(recipe RecipeConfig, source string, deps []string) error {
	if err := w.fs.WriteFile(filepath.Join(w.Dir, FilenameSource), []byte(source), FilePermission); err != nil {
		return fmt.Errorf("failed to write source file: %w", err)
	}

	if w.HasManifest {
		manifest := strings.Join(deps, "\n") + "\n"
		if err := w.fs.WriteFile(filepath.Join(w.Dir, FilenameManifest), []byte(manifest), FilePermission); err != nil {
			return fmt.Errorf("failed to write requirements manifest: %w", err)
		}
	}

	dockerfile := BuildRecipe(recipe, w.HasManifest)
	if err := w.fs.WriteFile(filepath.Join(w.Dir, FilenameDockerfile), []byte(dockerfile), FilePermission); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	return nil
}

// Close removes the workspace directory. Failures are logged and returned;
// it is safe to call more than once.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := w.fs.RemoveAll(w.Dir); err != nil {
		w.logger.Warn("failed to remove workspace", zap.String("path", w.Dir), zap.Error(err))
		return err
	}
	w.Dir = ""
	return nil
}

// BuildRecipe renders the Dockerfile for a build context
func BuildRecipe(recipe RecipeConfig, hasManifest bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n\n", recipe.BaseImage)

	if len(recipe.SystemPackages) > 0 {
		b.WriteString("# Native toolchain for numeric packages\n")
		b.WriteString("RUN apt-get update && apt-get install -y \\\n")
		for _, pkg := range recipe.SystemPackages {
			fmt.Fprintf(&b, "    %s \\\n", pkg)
		}
		b.WriteString("    && rm -rf /var/lib/apt/lists/*\n\n")
	}

	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY . .\n\n")

	if hasManifest {
		b.WriteString("RUN pip install --upgrade pip\n")
		fmt.Fprintf(&b, "RUN pip install --no-cache-dir -r %s\n\n", FilenameManifest)
	}

	fmt.Fprintf(&b, "RUN useradd -m -u %d %s\n", recipe.RunnerUID, recipe.RunnerUser)
	fmt.Fprintf(&b, "USER %s\n\n", recipe.RunnerUser)

	fmt.Fprintf(&b, "CMD [%q, %q]\n", RunCommand[0], RunCommand[1])

	return b.String()
}
