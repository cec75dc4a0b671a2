package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/engine"
	"github.com/paxtone-io/openkodo/internal/store"
)

var (
	// curate command flags
	curateDomain     string
	curateTopic      string
	curateSubtopic   string
	curateTitle      string
	curateBody       string
	curateTags       []string
	curateConfidence string
)

func init() {
	rootCmd.AddCommand(curateCmd)

	curateCmd.Flags().StringVar(&curateDomain, "domain", "", "top-level grouping, e.g. payments")
	curateCmd.Flags().StringVar(&curateTopic, "topic", "", "second-level grouping, e.g. retries")
	curateCmd.Flags().StringVar(&curateSubtopic, "subtopic", "", "optional narrower grouping")
	curateCmd.Flags().StringVar(&curateTitle, "title", "", "one-line summary")
	curateCmd.Flags().StringVar(&curateBody, "body", "", "markdown body, or - to read stdin")
	curateCmd.Flags().StringSliceVar(&curateTags, "tags", nil, "labels for lexical matching")
	curateCmd.Flags().StringVar(&curateConfidence, "confidence", "", "high, medium or low (default medium)")
}

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "File a context entry by hand",
	Long: `File a deliberately written knowledge record under a domain and topic,
bypassing extraction. Curated entries are served alongside captured
learnings.

Examples:
  # A short note
  kodo curate --domain payments --topic retries --title "Retry budget is 3 attempts"

  # Full body from stdin
  cat notes.md | kodo curate --domain ops --topic deploys --title "Rollback procedure" --body -

  # Tagged and trusted
  kodo curate --domain api --topic auth --title "Tokens rotate hourly" --tags go,jwt --confidence high`,
	Args: exactArgs(0),
	RunE: runCurate,
}

func runCurate(cmd *cobra.Command, args []string) error {
	if curateDomain == "" {
		return usageErr("--domain is required")
	}
	if curateTopic == "" {
		return usageErr("--topic is required")
	}
	if curateTitle == "" {
		return usageErr("--title is required")
	}
	confidence := store.Confidence(curateConfidence)
	if curateConfidence != "" && !store.IsValidConfidence(confidence) {
		return usageErr("invalid confidence: %s (valid: high, medium, low)", curateConfidence)
	}

	body := curateBody
	if body == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading body from stdin: %w", err)
		}
		body = string(raw)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	entry, err := eng.Curate(cmd.Context(), engine.CurateRequest{
		Domain:     curateDomain,
		Topic:      curateTopic,
		Subtopic:   curateSubtopic,
		Title:      curateTitle,
		Body:       body,
		Tags:       curateTags,
		Confidence: confidence,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Filed %s/%s: %s (%s)\n", entry.Domain, entry.Topic, entry.Title, shortID(entry.ID))
	return nil
}
