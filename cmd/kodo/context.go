package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/contextgen"
)

var (
	// context generate flags
	generatePrompt       string
	generateFiles        []string
	generateMaxLearnings int
	generateMinScore     float64
	generateDetail       string
	generateJSON         bool
)

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextGenerateCmd)

	contextGenerateCmd.Flags().StringVar(&generatePrompt, "prompt", "", "free text to rank against")
	contextGenerateCmd.Flags().StringSliceVar(&generateFiles, "files", nil, "paths the session is touching")
	contextGenerateCmd.Flags().IntVar(&generateMaxLearnings, "max-learnings", 0, "maximum records in the bundle (0 = default)")
	contextGenerateCmd.Flags().Float64Var(&generateMinScore, "min-score", 0, "drop records ranked below this score")
	contextGenerateCmd.Flags().StringVar(&generateDetail, "detail", "", "render level: compact, timeline, full (default compact)")
	contextGenerateCmd.Flags().BoolVar(&generateJSON, "json", false, "output the bundle with accounting as JSON")
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Generate context for prompt injection",
}

var contextGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a token-budgeted context block",
	Long: `Rank records against a prompt and the files in play, then render the
best of them within a token budget. Output is markdown ready for prompt
injection; an empty result prints nothing.

Examples:
  # Context for an upcoming task
  kodo context generate --prompt "add retry backoff to the payment client"

  # Signal the files being edited
  kodo context generate --files internal/payments/client.go --detail full

  # Machine-readable, with token accounting
  kodo context generate --prompt deploys --json`,
	Args: exactArgs(0),
	RunE: runContextGenerate,
}

func runContextGenerate(cmd *cobra.Command, args []string) error {
	detail := contextgen.Detail(generateDetail)
	if generateDetail != "" && !detail.Valid() {
		return usageErr("invalid detail: %s (valid: compact, timeline, full)", generateDetail)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	bundle, err := eng.Generator().Generate(cmd.Context(), contextgen.Request{
		Prompt:   generatePrompt,
		Files:    generateFiles,
		MaxItems: generateMaxLearnings,
		MinScore: generateMinScore,
		Detail:   detail,
	})
	if err != nil {
		return err
	}

	if generateJSON {
		return outputJSON(bundle)
	}
	fmt.Print(bundle.Markdown())
	return nil
}
