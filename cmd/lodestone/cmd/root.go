// Package cmd provides the CLI commands for the lodestone server.
package cmd

import (
	"github.com/spf13/cobra"

	"lodestone/pkg/version"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "lodestone",
		Short: "Multi-tenant vector search service for RAG pipelines",
		Long: `Lodestone serves named document indexes over a REST API: document
ingestion with deterministic chunking, ANN-backed semantic search, literal
grep search, and weighted hybrid fusion of the two.

Run 'lodestone serve' to start the server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("lodestone version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
