package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pylingo/execbox/logger"
	"github.com/pylingo/execbox/sandbox"
)

type runOptions struct {
	deps      []string
	timeout   int
	framework string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute one Python file in the sandbox",
		Long: `Execute one Python file in the sandbox and print the JSON result.

Use "-" to read the program from stdin. With --framework the file is treated
as a web application and only checked for loading.

Examples:
  execbox run main.py
  execbox run analysis.py --dep pandas --dep matplotlib --timeout 45
  execbox run app.py --framework fastapi`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.deps, "dep", nil, "pip requirement to install (repeatable)")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "Timeout in seconds (default from config, capped at sandbox.max_timeout_sec; ignored with --framework)")
	cmd.Flags().StringVar(&opts.framework, "framework", "", "Check a web application instead (flask or fastapi)")

	return cmd
}

func runFile(cmd *cobra.Command, path string, opts *runOptions) error {
	source, err := readSource(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	orchestrator := sandbox.NewOrchestratorFromConfig(log, cfg, nil)
	defer func() { _ = orchestrator.Close() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := sandbox.ExecutionRequest{
		SourceCode:   source,
		Dependencies: opts.deps,
		TimeoutSec:   opts.timeout,
	}

	var result sandbox.ExecutionResult
	if opts.framework != "" {
		req.Framework = opts.framework
		result = orchestrator.ExecuteWebService(ctx, req)
	} else {
		result = orchestrator.Execute(ctx, req)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if !result.Success {
		return errExecutionFailed
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	return string(data), nil
}
