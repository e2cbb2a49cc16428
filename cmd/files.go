package cmd

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/codereview/internal/source"
)

var (
	filesRef  string
	filesJSON bool
)

var filesCmd = &cobra.Command{
	Use:   "files <owner/repo|github-url>",
	Short: "List the files of a GitHub repository",
	Long: `List every file in a GitHub repository, to pick one for 'review repo'.
The default branch is listed unless --ref or a /tree/<ref> URL names another.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return filesRun(cmd, args[0])
	},
}

func init() {
	filesCmd.Flags().StringVar(&filesRef, "ref", "", "Branch, tag or commit to list (default: the default branch)")
	filesCmd.Flags().BoolVar(&filesJSON, "json", false, "Print the listing as JSON")
	rootCmd.AddCommand(filesCmd)
}

func filesRun(cmd *cobra.Command, target string) error {
	owner, repo, ref, err := source.ParseGitHubRepo(target)
	if err != nil {
		return err
	}
	if filesRef != "" {
		ref = filesRef
	}

	r, err := getRepoResolver()
	if err != nil {
		return err
	}
	tree, err := r.ListFiles(cmd.Context(), owner, repo, ref)
	if err != nil {
		return err
	}

	if filesJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	}
	if tree.Truncated {
		ui.Warning("listing of %s/%s is truncated", owner, repo)
	}
	if len(tree.Files) == 0 {
		ui.Info("No files in %s/%s at %s", owner, repo, tree.Ref)
		return nil
	}

	table := ui.Table([]string{"Path", "Size"})
	for _, f := range tree.Files {
		if err := table.Append([]string{f.Path, strconv.Itoa(f.Size)}); err != nil {
			return err
		}
	}
	return table.Render()
}
