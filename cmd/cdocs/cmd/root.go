// Package cmd provides the CLI commands for cdocs.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/compounding-docs/cdocs/pkg/version"
)

// NewRootCmd creates the root command for the cdocs CLI.
func NewRootCmd() *cobra.Command {
	var debug bool
	var logFile string

	cmd := &cobra.Command{
		Use:   "cdocs",
		Short: "Per-project markdown knowledge server for AI assistants",
		Long: `cdocs serves a per-project knowledge base of markdown documents
over MCP. Documents under the project's docs directory are parsed,
embedded, and indexed for semantic search and RAG retrieval; a file
watcher keeps the index current as documents change.

Run 'cdocs serve' from an MCP client configuration, or just 'cdocs'.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context(), debug, logFile)
		},
	}

	cmd.SetVersionTemplate("cdocs version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file in addition to stderr")

	cmd.AddCommand(newServeCmd(&debug, &logFile))
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
