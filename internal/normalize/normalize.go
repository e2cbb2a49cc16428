// Package normalize turns untrusted model output into a CodeReviewResult.
// Normalize never fails: whatever the model returned, the result satisfies
// every structural invariant of the review record.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/joescharf/codereview/internal/models"
)

const unknownLanguage = "unknown"

var fenceRe = regexp.MustCompile("(?s)^\\s*```[A-Za-z0-9_-]*\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// Normalize builds a review from the raw model text. source is the code the
// model reviewed and is the only input to CodeLength. A declared language
// always wins over what the model reports. Results built from text that is
// not a JSON object are marked Degraded.
func Normalize(raw, source, declaredLanguage, userID string) models.CodeReviewResult {
	doc, ok := parseObject(raw)

	res := models.CodeReviewResult{
		UserID:      userID,
		RawCode:     source,
		Language:    resolveLanguage(declaredLanguage, doc),
		CodeLength:  utf8.RuneCountInString(source),
		Issues:      normalizeIssues(doc.Get("issues")),
		Suggestions: stringList(doc.Get("suggestions")),
		Degraded:    !ok,
		CreatedAt:   time.Now().UTC(),
	}
	res.ImprovedCode = firstString(doc, "improved_code", "improvedCode")
	res.Summary = models.ComputeSummary(res.Issues)
	return res
}

// Empty returns the fallback review used when no model output is available.
func Empty(source, declaredLanguage, userID string) models.CodeReviewResult {
	return Normalize("", source, declaredLanguage, userID)
}

func parseObject(raw string) (gjson.Result, bool) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" || !gjson.Valid(text) {
		return gjson.Result{}, false
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return gjson.Result{}, false
	}
	return doc, true
}

func resolveLanguage(declared string, doc gjson.Result) string {
	if l := strings.TrimSpace(declared); l != "" {
		return l
	}
	if l := strings.TrimSpace(firstString(doc, "codeLanguage", "language")); l != "" {
		return l
	}
	return unknownLanguage
}

func normalizeIssues(v gjson.Result) []models.Issue {
	issues := []models.Issue{}
	if !v.IsArray() {
		return issues
	}

	seen := make(map[string]bool)
	for i, raw := range v.Array() {
		iss := models.Issue{
			ID:       strconv.Itoa(i + 1),
			Severity: models.SeverityInfo,
			Category: models.CategoryOther,
		}
		if raw.IsObject() {
			if id := text(raw.Get("id")); strings.TrimSpace(id) != "" {
				iss.ID = id
			}
			iss.Line = lineNumber(raw.Get("line"))
			if s := models.Severity(strings.ToLower(strings.TrimSpace(text(raw.Get("severity"))))); s.Valid() {
				iss.Severity = s
			}
			if c := models.Category(strings.ToLower(strings.TrimSpace(text(raw.Get("category"))))); c.Valid() {
				iss.Category = c
			}
			iss.Title = text(raw.Get("title"))
			iss.Explanation = text(raw.Get("explanation"))
			iss.SuggestedFix = firstString(raw, "suggestedFix", "suggested_fix")
		}
		if seen[iss.ID] {
			iss.ID = iss.ID + "-" + strconv.Itoa(i+1)
		}
		seen[iss.ID] = true
		issues = append(issues, iss)
	}
	return issues
}

// lineNumber accepts numbers and numeric strings; anything else, including
// negative values, is 0.
func lineNumber(v gjson.Result) int {
	var n int64
	switch v.Type {
	case gjson.Number:
		n = int64(v.Float())
	case gjson.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 || n > int64(^uint32(0)>>1) {
		return 0
	}
	return int(n)
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		if s := text(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type != gjson.Null {
			return text(v)
		}
	}
	return ""
}

// text renders scalar values as strings and keeps nested JSON verbatim.
func text(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number, gjson.True, gjson.False:
		return v.String()
	case gjson.JSON:
		return v.Raw
	default:
		return ""
	}
}
