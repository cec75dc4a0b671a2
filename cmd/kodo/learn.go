package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/engine"
	"github.com/paxtone-io/openkodo/internal/review"
	"github.com/paxtone-io/openkodo/internal/store"
)

var (
	// learn command flags
	learnStatus   string
	learnCategory string
	learnJSON     bool
)

func init() {
	rootCmd.AddCommand(learnCmd)
	learnCmd.AddCommand(learnListCmd)
	learnCmd.AddCommand(learnShowCmd)
	learnCmd.AddCommand(learnPromoteCmd)
	learnCmd.AddCommand(learnDemoteCmd)
	learnCmd.AddCommand(learnDeleteCmd)
	learnCmd.AddCommand(learnReviewCmd)

	learnListCmd.Flags().StringVar(&learnStatus, "status", "", "filter by status: pending, active, archived")
	learnListCmd.Flags().StringVar(&learnCategory, "category", "", "filter by category")
	learnListCmd.Flags().BoolVar(&learnJSON, "json", false, "output as JSON")
	learnShowCmd.Flags().BoolVar(&learnJSON, "json", false, "output as JSON")
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Manage captured learnings",
	Long: `Inspect and steer the learning lifecycle. Extracted learnings start
pending; promote what holds, demote what does not, and archive the
rest. IDs may be abbreviated to any unique prefix.

Examples:
  # What is waiting for review
  kodo learn list --status pending

  # Walk the review queue interactively
  kodo learn review

  # Trust a learning more
  kodo learn promote a1b2c3d4`,
}

var learnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learnings",
	Args:  exactArgs(0),
	RunE:  runLearnList,
}

var learnShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one learning with its evidence",
	Args:  exactArgs(1),
	RunE:  runLearnShow,
}

var learnPromoteCmd = &cobra.Command{
	Use:   "promote ID",
	Short: "Raise a learning's confidence and activate it",
	Args:  exactArgs(1),
	RunE:  runLearnPromote,
}

var learnDemoteCmd = &cobra.Command{
	Use:   "demote ID",
	Short: "Lower a learning's confidence, archiving at the floor",
	Args:  exactArgs(1),
	RunE:  runLearnDemote,
}

var learnDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a learning permanently",
	Args:  exactArgs(1),
	RunE:  runLearnDelete,
}

var learnReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending learnings interactively",
	Args:  exactArgs(0),
	RunE:  runLearnReview,
}

func runLearnList(cmd *cobra.Command, args []string) error {
	filter := store.LearningFilter{}
	if learnStatus != "" {
		st := store.Status(learnStatus)
		if !store.IsValidStatus(st) {
			return usageErr("invalid status: %s (valid: pending, active, archived)", learnStatus)
		}
		filter.Statuses = []store.Status{st}
	}
	if learnCategory != "" {
		c := store.Category(learnCategory)
		if !store.IsValidCategory(c) {
			return usageErr("invalid category: %s (valid: %s)", learnCategory, categoryNames())
		}
		filter.Category = &c
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	records, err := eng.Records().ListLearnings(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if learnJSON {
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No learnings recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tCONF\tSTATUS\tEVIDENCE\tSTATEMENT")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(rec.ID), rec.Category, rec.Confidence, rec.Status,
			len(rec.Evidence), truncate(rec.Statement, 60))
	}
	return w.Flush()
}

func runLearnShow(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := resolveLearning(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	if learnJSON {
		return outputJSON(rec)
	}

	fmt.Printf("ID:         %s\n", rec.ID)
	fmt.Printf("Category:   %s\n", rec.Category)
	fmt.Printf("Confidence: %s\n", rec.Confidence)
	fmt.Printf("Status:     %s\n", rec.Status)
	if rec.AgentScope != "" {
		fmt.Printf("Agent:      %s\n", rec.AgentScope)
	}
	fmt.Printf("Created:    %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Confirmed:  %s\n", rec.LastConfirmedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("\n%s\n", rec.Statement)

	if len(rec.Evidence) > 0 {
		fmt.Printf("\nEvidence (%d):\n", len(rec.Evidence))
		for _, ev := range rec.Evidence {
			ref := ev.SessionID
			if ev.Branch != "" {
				ref += " " + ev.Branch
			}
			if ev.Commit != "" {
				ref += "@" + ev.Commit
			}
			fmt.Printf("  - %s\n", ref)
			if ev.Excerpt != "" {
				fmt.Printf("    %q\n", truncate(ev.Excerpt, 100))
			}
		}
	}
	return nil
}

func runLearnPromote(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := resolveLearning(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	before := rec.Confidence
	rec, err = eng.Curator().Promote(cmd.Context(), rec.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Promoted %s: %s -> %s (%s)\n", shortID(rec.ID), before, rec.Confidence, rec.Status)
	return nil
}

func runLearnDemote(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := resolveLearning(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	before := rec.Confidence
	rec, err = eng.Curator().Demote(cmd.Context(), rec.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Demoted %s: %s -> %s (%s)\n", shortID(rec.ID), before, rec.Confidence, rec.Status)
	return nil
}

func runLearnDelete(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := resolveLearning(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	if err := eng.DeleteLearning(cmd.Context(), rec.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted %s: %s\n", shortID(rec.ID), truncate(rec.Statement, 60))
	return nil
}

func runLearnReview(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pending, err := eng.Records().ListLearnings(cmd.Context(), store.LearningFilter{
		Statuses: []store.Status{store.StatusPending},
	})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending learnings to review.")
		return nil
	}

	summary, err := review.Run(eng.Curator(), pending)
	if err != nil {
		return err
	}
	fmt.Printf("Reviewed %d: %d accepted, %d rejected, %d skipped\n",
		summary.Accepted+summary.Rejected+summary.Skipped,
		summary.Accepted, summary.Rejected, summary.Skipped)
	if summary.Remaining > 0 {
		fmt.Printf("%d still pending.\n", summary.Remaining)
	}
	return nil
}

// resolveLearning accepts a full learning ID or any unique prefix.
func resolveLearning(ctx context.Context, eng *engine.Engine, id string) (*store.Learning, error) {
	rec, err := eng.Records().GetLearning(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	records, err := eng.Records().ListLearnings(ctx, store.LearningFilter{})
	if err != nil {
		return nil, err
	}
	var match *store.Learning
	for _, cand := range records {
		if !strings.HasPrefix(cand.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("ambiguous id %s: matches %s and %s", id, shortID(match.ID), shortID(cand.ID))
		}
		match = cand
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrRecordNotFound, id)
	}
	return match, nil
}

func categoryNames() string {
	cats := store.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
