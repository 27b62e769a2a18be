package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dan-solli/mnemo/pkg/engine"
	"github.com/dan-solli/mnemo/pkg/store"
)

func exportCmd() *cobra.Command {
	var (
		scope  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a project as a JSON document",
		Long: `Export a project's observations and session summaries.

Examples:
  mnemo export -p myapp > myapp.json
  mnemo export -p myapp --scope all -o myapp-history.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProjectFlag(); err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.engine.Export(cmd.Context(), engine.ExportScope(scope), store.ListOptions{Project: project})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := printJSON(w, doc); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d observations and %d summaries to %s\n",
					len(doc.Observations), len(doc.Summaries), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(engine.ScopeCurrent), "current or all (include revision history)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func importCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import an export document",
		Long: `Import an export document in one transaction. Reads stdin when file is "-" or omitted.
Without --project the document's own project is used.

Examples:
  mnemo import myapp.json
  mnemo import -p myapp-copy --mode overwrite myapp.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			var doc engine.ExportDocument
			if err := json.NewDecoder(r).Decode(&doc); err != nil {
				return fmt.Errorf("failed to parse export document: %w", err)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Import(cmd.Context(), project, &doc, store.ImportMode(mode))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(store.ImportSkipDuplicates), "skip-duplicates or overwrite")
	return cmd
}
