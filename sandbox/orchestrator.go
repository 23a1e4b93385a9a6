package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pylingo/execbox/config"
)

// RequestKind selects the execution flavour
type RequestKind string

// Request kinds
const (
	RequestScript     RequestKind = "script"
	RequestWebService RequestKind = "web_service"
)

// ExecutionRequest represents the parameters for one execution
type ExecutionRequest struct {
	SourceCode   string
	Dependencies []string
	TimeoutSec   int
	Kind         RequestKind
	Framework    string
}

// Config holds the orchestrator settings
type Config struct {
	DefaultTimeoutSec    int
	MaxTimeoutSec        int
	WebServiceTimeoutSec int
	StartupPingTimeout   time.Duration
	TeardownTimeout      time.Duration
	ImagePrefix          string
	PidsLimit            int64
	Recipe               RecipeConfig
	Resolver             Resolver
}

// DefaultConfig returns the built-in orchestrator settings
func DefaultConfig() Config {
	return Config{
		DefaultTimeoutSec:    30,
		MaxTimeoutSec:        60,
		WebServiceTimeoutSec: 60,
		StartupPingTimeout:   5 * time.Second,
		TeardownTimeout:      30 * time.Second,
		ImagePrefix:          "pylingo-exec",
		PidsLimit:            64,
		Recipe:               DefaultRecipe(),
		Resolver:             DefaultResolver(),
	}
}

// NewConfig derives the orchestrator settings from the application configuration
func NewConfig(cfg *config.Config) Config {
	sb := cfg.Sandbox
	return Config{
		DefaultTimeoutSec:    sb.DefaultTimeoutSec,
		MaxTimeoutSec:        sb.MaxTimeoutSec,
		WebServiceTimeoutSec: sb.WebServiceTimeoutSec,
		StartupPingTimeout:   cfg.StartupPingTimeout(),
		TeardownTimeout:      time.Duration(sb.TeardownTimeoutSec) * time.Second,
		ImagePrefix:          sb.ImagePrefix,
		PidsLimit:            sb.PidsLimit,
		Recipe: RecipeConfig{
			BaseImage:      sb.BaseImage,
			SystemPackages: sb.SystemPackages,
			RunnerUser:     sb.RunnerUser,
			RunnerUID:      sb.RunnerUID,
		},
		Resolver: NewResolver(sb.MemoryTiers),
	}
}

// Orchestrator drives workspace creation, image build, container run and
// teardown for each execution request. It holds no per-request state, so a
// single instance serves concurrent callers.
type Orchestrator struct {
	logger    *zap.Logger
	config    Config
	engine    Engine
	available bool
	fs        FileSystem
	metrics   *Metrics
	newID     func() string
}

// OrchestratorOption defines a functional option for Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithFileSystem sets the FileSystem used for build contexts
func WithFileSystem(fs FileSystem) OrchestratorOption {
	return func(o *Orchestrator) {
		o.fs = fs
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithIDGenerator overrides the random suffix used for image and container names
func WithIDGenerator(newID func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// NewOrchestrator creates an Orchestrator and pings the engine once. The
// availability flag is never re-checked afterwards. A nil engine is treated as
// unavailable.
func NewOrchestrator(logger *zap.Logger, engine Engine, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		logger: logger,
		config: cfg,
		engine: engine,
		fs:     &RealFileSystem{},
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.available = o.ping()
	o.metrics.setAvailable(o.available)

	return o
}

func (o *Orchestrator) ping() bool {
	if o.engine == nil {
		o.logger.Warn("no container engine configured")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.config.StartupPingTimeout)
	defer cancel()

	if err := o.engine.Ping(ctx); err != nil {
		o.logger.Warn("container engine not available", zap.Error(err))
		return false
	}

	o.logger.Info("container engine available")
	return true
}

// IsAvailable reports the result of the startup engine ping
func (o *Orchestrator) IsAvailable() bool {
	return o.available
}

// Close releases the engine client if it holds resources
func (o *Orchestrator) Close() error {
	if closer, ok := o.engine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StatusMessage describes engine availability for status endpoints
func (o *Orchestrator) StatusMessage() string {
	if o.available {
		return MsgStatusAvailable
	}
	return MsgStatusUnavailable
}

// ExecuteWebService checks that web application code loads inside the sandbox
func (o *Orchestrator) ExecuteWebService(ctx context.Context, req ExecutionRequest) ExecutionResult {
	req.Kind = RequestWebService
	return o.Execute(ctx, req)
}

// Execute runs one request to completion. It never returns an error: every
// failure is classified into the result.
func (o *Orchestrator) Execute(ctx context.Context, req ExecutionRequest) (result ExecutionResult) {
	started := time.Now()
	if req.Kind == "" {
		req.Kind = RequestScript
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("execution panicked", zap.Any("panic", r), zap.String("kind", string(req.Kind)))
			result = Failed(NewFailure(KindInfrastructure, "%s%v", msgExecutionFailedPrefix, r))
		}
		o.metrics.observeOutcome(req.Kind, result.Kind)
		o.metrics.observePhase(req.Kind, "total", started)
	}()

	if !o.available {
		if req.Kind == RequestWebService {
			return Failed(&Failure{Kind: KindEngineUnavailable, Message: MsgWebEngineUnavailable})
		}
		return Failed(&Failure{Kind: KindEngineUnavailable, Message: MsgEngineUnavailable})
	}

	if strings.TrimSpace(req.SourceCode) == "" {
		return Failed(&Failure{Kind: KindEmptyInput, Message: MsgNoCode})
	}

	source, deps, timeoutSec, err := o.normalize(req)
	if err != nil {
		return Failed(Classify(err))
	}

	out, err := o.run(ctx, req.Kind, source, deps, timeoutSec)
	if err != nil {
		failure := Classify(err)
		if failure.Kind == KindTimeout {
			failure = NewFailure(KindTimeout, "Execution timed out after %d seconds", timeoutSec)
		}
		return Failed(failure)
	}

	if failure := ClassifyRun(out); failure != nil {
		return Failed(failure)
	}

	return Succeeded(out)
}

// normalize applies the per-kind source rewrite, dependency set and timeout.
func (o *Orchestrator) normalize(req ExecutionRequest) (source string, deps []string, timeoutSec int, err error) {
	deps, err = ValidateDependencies(req.Dependencies)
	if err != nil {
		return "", nil, 0, err
	}

	switch req.Kind {
	case RequestScript:
		return req.SourceCode, deps, ClampTimeout(req.TimeoutSec, o.config.DefaultTimeoutSec, o.config.MaxTimeoutSec), nil
	case RequestWebService:
		deps, err = WebServiceDependencies(req.Framework, deps)
		if err != nil {
			return "", nil, 0, err
		}
		// Web-service checks always get the fixed limit; the caller's value is ignored.
		return WebServiceSource(req.SourceCode), deps, o.config.WebServiceTimeoutSec, nil
	default:
		return "", nil, 0, NewFailure(KindInvalidRequest, "unsupported execution kind: %s", req.Kind)
	}
}

// run owns the workspace and image for one request and tears both down on
// every exit path.
func (o *Orchestrator) run(ctx context.Context, kind RequestKind, source string, deps []string, timeoutSec int) (RunOutput, error) {
	id := o.newID()
	tag := o.config.ImagePrefix + "-" + id
	log := o.logger.With(zap.String("image", tag), zap.String("kind", string(kind)))

	policy := o.config.Resolver.Resolve(deps)
	log.Info("executing code in sandbox",
		zap.Int("dependencies", len(deps)),
		zap.Int64("memory_bytes", policy.MemoryBytes),
		zap.Bool("network_enabled", policy.NetworkEnabled),
		zap.Int("timeout_sec", timeoutSec))

	ws, err := PrepareWorkspace(o.fs, log, o.config.Recipe, source, deps)
	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to prepare workspace: %w", err)
	}
	defer func() {
		if rmErr := ws.Close(); rmErr != nil {
			o.metrics.teardownFailed("workspace")
		}
	}()

	// Registered before the build so a half-built tag is removed as well.
	defer o.removeImage(ctx, log, tag)

	buildStarted := time.Now()
	if err := o.engine.BuildImage(ctx, ws.Dir, tag); err != nil {
		log.Warn("image build failed", zap.Error(err))
		var buildErr *BuildError
		if !errors.As(err, &buildErr) {
			err = &BuildError{Err: err}
		}
		return RunOutput{}, err
	}
	o.metrics.observePhase(kind, "build", buildStarted)

	runStarted := time.Now()
	out, err := o.engine.RunContainer(ctx, RunSpec{
		Image:           tag,
		Name:            tag,
		Command:         RunCommand,
		MemoryBytes:     policy.MemoryBytes,
		NetworkDisabled: !policy.NetworkEnabled,
		PidsLimit:       o.config.PidsLimit,
		Timeout:         time.Duration(timeoutSec) * time.Second,
	})
	o.metrics.observePhase(kind, "run", runStarted)
	if err != nil {
		log.Warn("container run failed", zap.Error(err))
		return RunOutput{}, err
	}

	log.Info("code execution completed",
		zap.Int("exit_code", out.ExitCode),
		zap.Int("stdout_len", len(out.Stdout)),
		zap.Int("stderr_len", len(out.Stderr)))

	return out, nil
}

func (o *Orchestrator) removeImage(ctx context.Context, log *zap.Logger, tag string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.TeardownTimeout)
	defer cancel()

	if err := o.engine.RemoveImage(ctx, tag); err != nil {
		o.metrics.teardownFailed("image")
		log.Warn("failed to remove image", zap.Error(err))
	}
}

// ClampTimeout returns def for unset (non-positive) values and never more
// than ceiling.
func ClampTimeout(requested, def, ceiling int) int {
	timeout := requested
	if timeout <= 0 {
		timeout = def
	}
	if timeout > ceiling {
		timeout = ceiling
	}
	return timeout
}

// ValidateDependencies trims the dependency list and rejects entries that
// would inject pip options or extra lines into the manifest.
func ValidateDependencies(deps []string) ([]string, error) {
	cleaned := make([]string, 0, len(deps))
	for _, dep := range deps {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			continue
		}
		if strings.ContainsAny(dep, "\r\n") || strings.HasPrefix(dep, "-") {
			return nil, NewFailure(KindInvalidRequest, "invalid dependency: %q", dep)
		}
		cleaned = append(cleaned, dep)
	}
	return cleaned, nil
}
