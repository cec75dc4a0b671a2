package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// import command flags
	importDomain string
	importTopic  string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importDomain, "domain", "", "domain to file entries under (default: file name)")
	importCmd.Flags().StringVar(&importTopic, "topic", "", "topic to file entries under (default: document title)")
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a markdown document as context entries",
	Long: `Split a markdown document into sections and file each section as a
context entry. The domain defaults to the file name and the topic to
the document's first heading; re-importing updates matching entries in
place.

Examples:
  # Import deployment notes under ops/
  kodo import docs/deploys.md --domain ops

  # Override both groupings
  kodo import notes.md --domain payments --topic retries`,
	Args: exactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.ImportMarkdown(cmd.Context(), args[0], importDomain, importTopic)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %s into %s/%s: %d created, %d updated",
		args[0], result.Domain, result.Topic, len(result.Created), len(result.Updated))
	if result.Skipped > 0 {
		fmt.Printf(", %d sections skipped", result.Skipped)
	}
	fmt.Println()
	for _, entry := range result.Created {
		fmt.Printf("  + %s\n", entry.Title)
	}
	for _, entry := range result.Updated {
		fmt.Printf("  ~ %s\n", entry.Title)
	}
	return nil
}
