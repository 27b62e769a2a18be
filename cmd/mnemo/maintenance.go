package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-solli/mnemo/pkg/engine"
)

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run and review maintenance actions",
	}
	cmd.AddCommand(maintenanceRunCmd())
	cmd.AddCommand(maintenanceHistoryCmd())
	return cmd
}

func maintenanceRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:       "run [action]",
		Short:     "Run a maintenance action (" + strings.Join(engine.MaintenanceActions(), ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: engine.MaintenanceActions(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := a.engine.RunMaintenance(cmd.Context(), args[0], dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without changing it")
	return cmd
}

func maintenanceHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List maintenance runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.engine.GetMaintenanceHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum entries (0 for all)")
	return cmd
}
