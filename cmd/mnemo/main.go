// Command mnemo runs the mnemo memory engine: the HTTP API, the MCP stdio
// server, and one-shot maintenance and exchange commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

// Global flags
var (
	configPath string
	dbPath     string
	project    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mnemo",
		Short: "mnemo - persistent memory for coding agents",
		Long: `mnemo stores observations made by coding agents, keeps their revision history,
and ranks them with full-text and optional semantic search.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides storage.path)")
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "", "project to operate on")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(maintenanceCmd())

	return rootCmd
}
