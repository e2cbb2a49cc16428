package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joescharf/codereview/internal/models"
)

// Review prints a review: a header line, the findings table, suggestions,
// and, in verbose mode, the improved code.
func (u *UI) Review(res models.CodeReviewResult, fromCache bool) error {
	source := "fresh"
	if fromCache {
		source = "cached"
	}
	u.Info("%s review of %s (%s, %d chars)", source, Cyan(SubjectLabel(res.Subject)), res.Language, res.CodeLength)
	if res.Degraded {
		u.Warning("the model returned no usable review; this result is a fallback and was not cached")
	}

	fmt.Fprintf(u.Out, "  issues: %d  critical: %s  warning: %s\n\n",
		res.Summary.IssueCount,
		CountColor(res.Summary.CriticalCount, models.SeverityCritical),
		CountColor(res.Summary.WarningCount, models.SeverityWarning),
	)

	if len(res.Issues) > 0 {
		table := u.Table([]string{"ID", "Line", "Severity", "Category", "Title"})
		for _, iss := range res.Issues {
			line := "-"
			if iss.Line > 0 {
				line = strconv.Itoa(iss.Line)
			}
			if err := table.Append([]string{iss.ID, line, SeverityColor(iss.Severity), string(iss.Category), iss.Title}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintln(u.Out)
	} else {
		u.Success("No issues found")
	}

	if u.Verbose {
		for _, iss := range res.Issues {
			fmt.Fprintf(u.Out, "%s %s\n", Cyan("#"+iss.ID), iss.Title)
			if iss.Explanation != "" {
				fmt.Fprintf(u.Out, "  %s\n", iss.Explanation)
			}
			if iss.SuggestedFix != "" {
				fmt.Fprintf(u.Out, "  fix: %s\n", iss.SuggestedFix)
			}
		}
	}

	if len(res.Suggestions) > 0 {
		fmt.Fprintln(u.Out, "Suggestions:")
		for _, s := range res.Suggestions {
			fmt.Fprintf(u.Out, "  - %s\n", s)
		}
	}

	if u.Verbose && res.ImprovedCode != "" {
		fmt.Fprintf(u.Out, "\nImproved code:\n%s\n", strings.TrimRight(res.ImprovedCode, "\n"))
	}
	return nil
}

// SubjectLabel renders a short human label for a reviewed subject.
func SubjectLabel(ref models.SubjectRef) string {
	switch ref.Kind {
	case models.SubjectRepositoryFile:
		rev := ref.Revision
		if len(rev) > 7 {
			rev = rev[:7]
		}
		return fmt.Sprintf("%s/%s/%s@%s", ref.Owner, ref.Repo, ref.Path, rev)
	case models.SubjectImage:
		hash := ref.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		return "image " + hash
	case models.SubjectInline:
		return "inline code"
	default:
		return string(ref.Kind)
	}
}
