package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pylingo/execbox/config"
)

// NewEngine creates the container engine client selected by sandbox.backend
func NewEngine(logger *zap.Logger, cfg *config.Config) (Engine, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendDocker:
		engine, err := NewDockerEngine(logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case config.BackendDockerCLI:
		return NewCLIEngine(logger, "docker"), nil
	case config.BackendPodman:
		return NewCLIEngine(logger, "podman"), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// NewOrchestratorFromConfig wires an Orchestrator from the application configuration.
// If the engine client could not be created the orchestrator reports itself
// unavailable instead of failing startup.
func NewOrchestratorFromConfig(logger *zap.Logger, cfg *config.Config, metrics *Metrics) *Orchestrator {
	engine, err := NewEngine(logger, cfg)
	if err != nil {
		logger.Error("failed to create container engine client", zap.Error(err))
	}

	logger.Info("sandbox configuration loaded",
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.default_timeout_sec", cfg.Sandbox.DefaultTimeoutSec),
		zap.Int("sandbox.max_timeout_sec", cfg.Sandbox.MaxTimeoutSec),
		zap.Int("sandbox.web_service_timeout_sec", cfg.Sandbox.WebServiceTimeoutSec),
		zap.String("sandbox.base_image", cfg.Sandbox.BaseImage),
		zap.Strings("sandbox.system_packages", cfg.Sandbox.SystemPackages),
		zap.String("sandbox.image_prefix", cfg.Sandbox.ImagePrefix),
		zap.Int("sandbox.memory_tiers.light_mb", cfg.Sandbox.MemoryTiers.LightMB),
		zap.Int("sandbox.memory_tiers.standard_mb", cfg.Sandbox.MemoryTiers.StandardMB),
		zap.Int("sandbox.memory_tiers.heavy_mb", cfg.Sandbox.MemoryTiers.HeavyMB),
	)

	return NewOrchestrator(logger, engine, NewConfig(cfg), WithMetrics(metrics))
}
