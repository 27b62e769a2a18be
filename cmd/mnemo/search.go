package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
)

func searchCmd() *cobra.Command {
	var (
		limit    int
		obsType  string
		since    string
		concepts []string
		files    []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search a project's observations",
		Long: `Search current observations with full-text and, when enabled, semantic ranking.

Examples:
  mnemo search -p myapp "sqlite locking"
  mnemo search -p myapp "auth" --type decision --limit 5 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProjectFlag(); err != nil {
				return err
			}
			f := search.Filters{
				Project:  project,
				Type:     store.ObservationType(obsType),
				Limit:    limit,
				Concepts: concepts,
				Files:    files,
			}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC 3339: %w", err)
				}
				f.Since = &ts
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.engine.Search(cmd.Context(), query, f)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "No results for %q\n", query)
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. [%s] %s (%.3f)\n", i+1, r.Observation.Type, r.Observation.Title, r.Score)
				fmt.Fprintf(out, "   %s  %s\n", r.Observation.ID, r.Observation.CreatedAt.Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "maximum results (default search.default_limit)")
	cmd.Flags().StringVarP(&obsType, "type", "t", "", "filter by observation type")
	cmd.Flags().StringVar(&since, "since", "", "only observations created at or after this RFC 3339 time")
	cmd.Flags().StringSliceVar(&concepts, "concept", nil, "require one of these concepts")
	cmd.Flags().StringSliceVar(&files, "file", nil, "require one of these files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
