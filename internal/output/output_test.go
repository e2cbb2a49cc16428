package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codereview/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestSeverityColor(t *testing.T) {
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityInfo} {
		assert.Contains(t, SeverityColor(sev), string(sev))
	}
	assert.Equal(t, "bogus", SeverityColor("bogus"))
}

func TestCountColor(t *testing.T) {
	assert.Contains(t, CountColor(0, models.SeverityCritical), "0")
	assert.Contains(t, CountColor(3, models.SeverityWarning), "3")
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Name", "Status"})
	require.NotNil(t, table)

	require.NoError(t, table.Append([]string{"1", "critical"}))
	require.NoError(t, table.Append([]string{"2", "info"}))
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "critical") || strings.Contains(result, "CRITICAL"),
		"table output should contain row values")
	assert.Contains(t, result, "info")
}

func TestReview(t *testing.T) {
	u, out, errOut := newTestUI()
	u.Verbose = true
	res := models.CodeReviewResult{
		Subject:  models.SubjectRef{Kind: models.SubjectRepositoryFile, Owner: "o", Repo: "r", Path: "f.py", Revision: "abc123def456"},
		Language: "python",
		Summary:  models.Summary{IssueCount: 1, CriticalCount: 1},
		Issues: []models.Issue{{
			ID: "1", Line: 3, Severity: models.SeverityCritical, Category: models.CategorySecurity,
			Title: "eval on input", Explanation: "arbitrary code execution", SuggestedFix: "use ast.literal_eval",
		}},
		Suggestions:  []string{"add tests"},
		ImprovedCode: "print(1)\n",
	}
	require.NoError(t, u.Review(res, true))

	text := out.String()
	assert.Contains(t, text, "cached review")
	assert.Contains(t, text, "o/r/f.py@abc123d")
	assert.Contains(t, text, "eval on input")
	assert.Contains(t, text, "arbitrary code execution")
	assert.Contains(t, text, "add tests")
	assert.Contains(t, text, "Improved code:")
	assert.Empty(t, errOut.String())
}

func TestReview_DegradedAndEmpty(t *testing.T) {
	u, out, errOut := newTestUI()
	res := models.CodeReviewResult{
		Subject:     models.SubjectRef{Kind: models.SubjectInline},
		Language:    "unknown",
		Issues:      []models.Issue{},
		Suggestions: []string{},
		Degraded:    true,
	}
	require.NoError(t, u.Review(res, false))
	assert.Contains(t, out.String(), "No issues found")
	assert.Contains(t, errOut.String(), "fallback")
}

func TestSubjectLabel(t *testing.T) {
	assert.Equal(t, "inline code", SubjectLabel(models.SubjectRef{Kind: models.SubjectInline}))
	assert.Equal(t, "image 0123456789ab", SubjectLabel(models.SubjectRef{Kind: models.SubjectImage, ContentHash: "0123456789abcdef"}))
}
