package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/pylingo/execbox/config"
	"github.com/pylingo/execbox/logger"
	"github.com/pylingo/execbox/mcpserver"
	"github.com/pylingo/execbox/sandbox"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on the transport selected by server.transport.

With the http transport the MCP endpoint is /mcp; /api/engine/status,
/healthz and /metrics are served alongside it.

Examples:
  execbox serve
  EXECBOX_SERVER_TRANSPORT=http execbox serve --config /etc/execbox`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fx.New(appOptions()...).Run()
		},
	}
}

// appOptions wires the server application
func appOptions() []fx.Option {
	return []fx.Option{
		fx.Provide(
			loadConfig,
			logger.NewFromConfig,
			fx.Annotate(
				newRegistry,
				fx.As(new(prometheus.Registerer)),
				fx.As(new(prometheus.Gatherer)),
			),
			sandbox.NewMetrics,
			sandbox.NewOrchestratorFromConfig,
			newExecutor,
			mcpserver.New,
		),

		fx.Invoke(registerTransport),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	}
}

func loadConfig() (*config.Config, error) {
	if len(configDirs) > 0 {
		return config.Load(configDirs...)
	}
	return config.New()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newExecutor(o *sandbox.Orchestrator) mcpserver.Executor {
	return o
}

// registerTransport starts the configured transport in the background and
// releases the engine client on shutdown.
func registerTransport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	server *mcpserver.MCPServer,
	orchestrator *sandbox.Orchestrator,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				switch cfg.Server.Transport {
				case "stdio":
					err = server.ServeStdio()
				case "http":
					err = server.ServeHTTP()
				}

				if err != nil {
					log.Error("transport stopped", zap.String("transport", cfg.Server.Transport), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := server.Shutdown(ctx)
			if closeErr := orchestrator.Close(); closeErr != nil {
				log.Warn("failed to close container engine client", zap.Error(closeErr))
			}
			_ = log.Sync()
			return err
		},
	})
}
