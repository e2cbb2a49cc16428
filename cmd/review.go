package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/review"
	"github.com/joescharf/codereview/internal/source"
)

var (
	reviewLanguage string
	reviewJSON     bool
	reviewOwner    string
	reviewRepo     string
	reviewPath     string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review code inline, from an image, or from a GitHub repository",
}

var reviewCodeCmd = &cobra.Command{
	Use:   "code [file|-]",
	Short: "Review a source file (or stdin)",
	Long: `Review a source file. With no argument or "-" the code is read from stdin.
Inline reviews are never cached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "-"
		if len(args) == 1 {
			name = args[0]
		}
		return reviewCodeRun(cmd, name)
	},
}

var reviewImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Review code shown in a screenshot or photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewImageRun(cmd, args[0])
	},
}

var reviewRepoCmd = &cobra.Command{
	Use:   "repo [github-url]",
	Short: "Review a file in a GitHub repository at its latest revision",
	Long: `Review a file in a GitHub repository. The file is given either as a
URL (https://github.com/owner/repo/blob/main/path/to/file.go) or with
--owner, --repo and --path. The latest commit touching the file decides
whether a cached review can be reused.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := ""
		if len(args) == 1 {
			url = args[0]
		}
		return reviewRepoRun(cmd, url)
	},
}

func init() {
	reviewCmd.PersistentFlags().BoolVar(&reviewJSON, "json", false, "Print the review as JSON")

	reviewCodeCmd.Flags().StringVarP(&reviewLanguage, "language", "l", "", "Language of the code (default: from file extension, else auto)")

	reviewRepoCmd.Flags().StringVar(&reviewOwner, "owner", "", "Repository owner")
	reviewRepoCmd.Flags().StringVar(&reviewRepo, "repo", "", "Repository name")
	reviewRepoCmd.Flags().StringVar(&reviewPath, "path", "", "File path inside the repository")

	reviewCmd.AddCommand(reviewCodeCmd)
	reviewCmd.AddCommand(reviewImageCmd)
	reviewCmd.AddCommand(reviewRepoCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewCodeRun(cmd *cobra.Command, name string) error {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}

	lang := reviewLanguage
	if lang == "" {
		lang = languageForFile(name)
	}
	return runReview(cmd, models.InlineCode{Code: string(data), Language: lang})
}

func reviewImageRun(cmd *cobra.Command, name string) error {
	if err := source.ValidateImageFilename(name); err != nil {
		return err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return runReview(cmd, models.Image{Data: data, Filename: filepath.Base(name)})
}

func reviewRepoRun(cmd *cobra.Command, url string) error {
	subject := models.RepositoryFile{Owner: reviewOwner, Repo: reviewRepo, Path: reviewPath}
	if url != "" {
		parsed, _, err := source.ParseGitHubURL(url)
		if err != nil {
			return err
		}
		subject = parsed
	}
	if subject.Owner == "" || subject.Repo == "" || subject.Path == "" {
		return fmt.Errorf("a GitHub URL or --owner, --repo and --path are required")
	}
	return runReview(cmd, subject)
}

// runReview runs one review and prints it. A degraded result is still
// printed before its error is returned.
func runReview(cmd *cobra.Command, subject models.Subject) error {
	ctx := cmd.Context()
	svc, err := getService(ctx)
	if err != nil {
		return err
	}

	out, err := svc.Review(ctx, subject, currentUser())
	if out != nil {
		if perr := printOutcome(out); perr != nil {
			return perr
		}
	}
	if err != nil {
		if review.KindOf(err) == review.KindQuotaExhausted {
			return fmt.Errorf("the model's quota is exhausted, try again later: %w", err)
		}
		return err
	}
	return nil
}

func printOutcome(out *review.Outcome) error {
	if reviewJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if err := ui.Review(out.Result, out.FromCache); err != nil {
		return err
	}
	if out.ReviewID != "" {
		ui.VerboseLog("review id: %s", out.ReviewID)
	}
	if !out.Persisted && out.Result.Subject.Kind != models.SubjectInline && !out.Result.Degraded {
		ui.Warning("review could not be cached")
	}
	return nil
}

// currentUser is the user id reviews and history are scoped to.
func currentUser() string {
	if u := strings.TrimSpace(viper.GetString("user_id")); u != "" {
		return u
	}
	return defaultUserID
}

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".sh":    "bash",
	".sql":   "sql",
}

// languageForFile guesses a language from the file extension, or returns ""
// so the model detects it.
func languageForFile(name string) string {
	return languageByExt[strings.ToLower(filepath.Ext(name))]
}
