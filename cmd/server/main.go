package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errExecutionFailed signals a completed run whose result was a failure. The
// result itself has already been printed.
var errExecutionFailed = errors.New("execution failed")

var configDirs []string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "execbox",
		Short: "execbox - sandboxed Python execution server",
		Long: `execbox executes untrusted Python code in throwaway containers.

Each execution builds an image with the requested pip packages, runs it with
memory, process and network restrictions, and removes every trace afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&configDirs, "config", nil,
		"Directories searched for config.yaml (default: . and ./config)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExecutionFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
