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
	cacheKind  string
	cacheAll   bool
	cacheLimit int
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect cached reviews",
	Long: `Inspect the review cache. Image reviews are shared by everyone who
submits the same image; repository file reviews belong to one user.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheListRun(cmd)
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show the cached review stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheShowRun(cmd, args[0])
	},
}

func init() {
	cacheListCmd.Flags().StringVar(&cacheKind, "kind", "", "Filter by subject kind (image, repository_file)")
	cacheListCmd.Flags().BoolVar(&cacheAll, "all", false, "Include repository entries of every user")
	cacheListCmd.Flags().IntVar(&cacheLimit, "limit", 50, "Maximum number of entries")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.CacheListFilter{Kind: models.SubjectKind(cacheKind), Limit: cacheLimit}
	if !cacheAll {
		filter.UserID = currentUser()
		filter.IncludeShared = true
	}
	entries, err := s.ListCachedReviews(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("Cache is empty")
		return nil
	}

	table := ui.Table([]string{"Key", "Subject", "Language", "Issues", "Critical", "Updated"})
	for _, e := range entries {
		if err := table.Append([]string{
			e.Key.String(),
			output.SubjectLabel(e.Result.Subject),
			e.Result.Language,
			strconv.Itoa(e.Result.Summary.IssueCount),
			output.CountColor(e.Result.Summary.CriticalCount, models.SeverityCritical),
			e.UpdatedAt.Local().Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func cacheShowRun(cmd *cobra.Command, key string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	e, err := s.GetCachedReview(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("cache entry %q: %w", key, err)
	}
	ui.VerboseLog("entry %s, created %s", e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	return ui.Review(e.Result, true)
}
