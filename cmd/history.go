package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/output"
	"github.com/joescharf/codereview/internal/store"
)

var (
	historyKind  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:     "history [review-id]",
	Aliases: []string{"hist"},
	Short:   "List past reviews, or show one by id",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return historyShowRun(cmd, args[0])
		}
		return historyListRun(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Filter by subject kind (inline, image, repository_file)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of reviews to list")
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	records, err := s.ListReviews(cmd.Context(), store.ReviewListFilter{
		UserID: currentUser(),
		Kind:   models.SubjectKind(historyKind),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.Info("No reviews yet for user %s", currentUser())
		return nil
	}

	table := ui.Table([]string{"ID", "Subject", "Language", "Issues", "Critical", "Cached", "When"})
	for _, r := range records {
		cached := ""
		if r.FromCache {
			cached = output.Cyan("yes")
		}
		if err := table.Append([]string{
			r.ID,
			output.SubjectLabel(r.Result.Subject),
			r.Result.Language,
			strconv.Itoa(r.Result.Summary.IssueCount),
			output.CountColor(r.Result.Summary.CriticalCount, models.SeverityCritical),
			cached,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := s.GetReview(cmd.Context(), id)
	if err != nil {
		return err
	}
	if r.UserID != currentUser() {
		return fmt.Errorf("review %s: %w", id, store.ErrNotFound)
	}
	return ui.Review(r.Result, r.FromCache)
}
