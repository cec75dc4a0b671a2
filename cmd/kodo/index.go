package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// index command flags
	indexJSON bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexEmbeddingsCmd)

	indexStatusCmd.Flags().BoolVar(&indexJSON, "json", false, "output as JSON")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the relevance index",
	Long: `The relevance index is a rebuildable projection of the record store.
It repairs itself lazily, so these commands exist for inspection and
for forcing the repair right now.

Examples:
  # Reproject every record
  kodo index rebuild

  # Inspect counts and the semantic arm
  kodo index status

  # Re-embed everything into the vector store
  kodo index embeddings`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the record store",
	Args:  exactArgs(0),
	RunE:  runIndexRebuild,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index document counts and vector state",
	Args:  exactArgs(0),
	RunE:  runIndexStatus,
}

var indexEmbeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Re-embed every indexed record",
	Args:  exactArgs(0),
	RunE:  runIndexEmbeddings,
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	start := time.Now()
	if err := eng.Index().Rebuild(cmd.Context()); err != nil {
		return err
	}
	st, err := eng.Index().Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt index: %d documents (%d active, %d pending) in %s\n",
		st.Documents, st.Active, st.Pending, time.Since(start).Round(time.Millisecond))
	return nil
}

func runIndexStatus(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := eng.Index().Status(cmd.Context())
	if err != nil {
		return err
	}
	if indexJSON {
		return outputJSON(st)
	}

	fmt.Printf("Documents: %d (%d active, %d pending)\n", st.Documents, st.Active, st.Pending)
	if !st.BuiltAt.IsZero() {
		fmt.Printf("Built:     %s\n", st.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	if st.Semantic {
		fmt.Printf("Semantic:  enabled (%d vectors)\n", st.Vectors)
	} else {
		fmt.Println("Semantic:  disabled")
	}
	return nil
}

func runIndexEmbeddings(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if eng.Embedder() == nil {
		return fmt.Errorf("embeddings are disabled; set embeddings.enabled in %s", eng.Layout().ConfigFile())
	}
	n, err := eng.Index().BackfillVectors(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Embedded %d records.\n", n)
	return nil
}
