package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compounding-docs/cdocs/internal/logging"
	"github.com/compounding-docs/cdocs/internal/mcp"
)

func newServeCmd(debug *bool, logFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Start the MCP server on stdin/stdout for an AI client.

Stdout carries JSON-RPC exclusively; all logging goes to stderr and,
when --log-file is set, to a rotating log file. No project is active
until the client calls activate_project.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *debug, *logFile)
		},
	}
}

func runServe(ctx context.Context, debug bool, logFile string) error {
	// MCP clients read stdout as a protocol stream, so nothing below
	// may print there.
	logCfg := logging.DefaultConfig()
	logCfg.FilePath = logFile
	if debug {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mcp.NewServer(logger)
	defer srv.Close()

	return srv.Serve(ctx)
}
