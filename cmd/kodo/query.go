package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

var (
	// query command flags
	queryFormat string
	queryLimit  int
	queryFull   bool
)

// validFormats are the accepted --format values.
var validFormats = map[string]bool{
	"text":     true,
	"json":     true,
	"markdown": true,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryFormat, "format", "text", "output format: text, json, markdown")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum results (0 = default)")
	queryCmd.Flags().BoolVar(&queryFull, "full", false, "include full record bodies")
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search learnings and context entries",
	Long: `Rank active records against free text and print the best matches.
Without text the highest-confidence records are listed.

Examples:
  # Find what is known about retries
  kodo query "retry backoff"

  # Machine-readable results
  kodo query deploys --format json --limit 5

  # Everything, with bodies
  kodo query --full`,
	Args: maxArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	if !validFormats[queryFormat] {
		return usageErr("invalid format: %s (valid: text, json, markdown)", queryFormat)
	}
	text := ""
	if len(args) > 0 {
		text = args[0]
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	results, err := eng.Index().Search(cmd.Context(), text, index.SearchOptions{Limit: queryLimit})
	if err != nil {
		return err
	}

	switch queryFormat {
	case "json":
		return outputJSON(results)
	case "markdown":
		printResultsMarkdown(results)
	default:
		printResultsTable(results)
	}
	return nil
}

func printResultsTable(results []index.RankedResult) {
	if len(results) == 0 {
		fmt.Println("No matching records.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tWHERE\tCONF\tSCORE\tTITLE")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			shortID(r.ID), r.Kind, resultWhere(r), r.Confidence, r.Score, truncate(r.Title, 60))
	}
	w.Flush()

	if !queryFull {
		return
	}
	for _, r := range results {
		if r.Body == "" {
			continue
		}
		fmt.Printf("\n--- %s ---\n%s\n", r.Title, strings.TrimRight(r.Body, "\n"))
	}
}

func printResultsMarkdown(results []index.RankedResult) {
	for _, r := range results {
		fmt.Printf("- **%s** (%s, %s)\n", r.Title, resultWhere(r), r.Confidence)
		if queryFull && r.Body != "" {
			body := strings.ReplaceAll(strings.TrimSpace(r.Body), "\n", "\n  ")
			fmt.Printf("\n  %s\n\n", body)
		}
	}
}

// resultWhere renders the grouping column: the category for learnings,
// domain/topic for context entries.
func resultWhere(r index.RankedResult) string {
	if r.Kind == store.KindLearning {
		return string(r.Category)
	}
	if r.Topic != "" {
		return r.Domain + "/" + r.Topic
	}
	return r.Domain
}
