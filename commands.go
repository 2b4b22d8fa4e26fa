package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docsearch/apps/backend/features/search"
	"docsearch/apps/backend/internal/app"
	"docsearch/apps/backend/internal/passage"
	"docsearch/apps/backend/internal/retrieval"
)

var scanReprocess bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index new or changed documents once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			scan := a.Coordinator.ScanAndProcess
			if scanReprocess {
				scan = a.Coordinator.ReprocessAll
			}
			report, err := scan(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})
	},
}

var (
	searchCategory      string
	searchVersion       string
	searchLimit         int
	searchMinConfidence float64
	searchJSON          bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documentation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := map[string]any{}
		if searchCategory != "" {
			filters[passage.KeyCategory] = searchCategory
		}
		if searchVersion != "" {
			filters[passage.KeyVersion] = searchVersion
		}
		req := retrieval.SearchRequest{
			Query:         strings.Join(args, " "),
			Filters:       filters,
			MaxResults:    searchLimit,
			MinConfidence: searchMinConfidence,
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			results, err := a.Engine.Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			results = search.Present(results)
			if searchJSON {
				return printJSON(cmd, results)
			}
			printResults(cmd, results)
			return nil
		})
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanReprocess, "reprocess", false, "forget processed state and index every document again")

	searchCmd.Flags().StringVar(&searchCategory, "category", "", "only return passages in this category")
	searchCmd.Flags().StringVar(&searchVersion, "version", "", "only return passages for this product version")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", retrieval.DefaultMaxResults, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinConfidence, "min-confidence", retrieval.DefaultMinConfidence, "minimum confidence between 0 and 1")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	rootCmd.AddCommand(scanCmd, searchCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func printResults(cmd *cobra.Command, results []retrieval.SearchResult) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(out, "[%d] %s (%.3f)\n", i+1, r.Title, r.Confidence)
		fmt.Fprintf(out, "    %s, page %d", r.Source, r.Page)
		if r.Section != "" {
			fmt.Fprintf(out, " - %s", r.Section)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "    %s | %s\n", r.Category, r.Version)
		fmt.Fprintf(out, "    %s\n\n", snippet(r.Content, 200))
	}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
