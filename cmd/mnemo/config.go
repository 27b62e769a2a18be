package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/store"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change runtime configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPatchCmd())
	cmd.AddCommand(configHistoryCmd())
	cmd.AddCommand(configRollbackCmd())
	cmd.AddCommand(configModeCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.NewManager(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"path":      mgr.Path(),
				"config":    mgr.Current(),
				"locked":    mgr.Locked(),
				"modes":     config.ModeNames(),
				"patchKeys": config.PatchKeys(),
			})
		},
	}
}

func configPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch [json]",
		Short: "Apply a config patch and record it in the audit ledger",
		Long: `Apply a JSON patch of runtime settings. The change is persisted to the config file.

Examples:
  mnemo config patch '{"search_default_limit": 10}'
  mnemo config patch '{"rerank_enabled": true, "rerank_top_n": 30}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := config.DecodePatch([]byte(args[0]))
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			event, err := a.engine.PatchConfig(cmd.Context(), patch, store.SourceAPI)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}
}

func configHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List configuration changes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.engine.GetConfigAuditTimeline(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum entries (0 for all)")
	return cmd
}

func configRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [event-id]",
		Short: "Undo a configuration change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			event, err := a.engine.RollbackConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}
}

func configModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [name]",
		Short: "Apply a named settings preset (" + strings.Join(config.ModeNames(), ", ") + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			event, err := a.engine.ApplyMode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}
}
