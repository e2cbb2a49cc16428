package models

import "time"

// Severity is how serious a single finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Category classifies what kind of problem a finding describes.
type Category string

const (
	CategoryBug             Category = "bug"
	CategorySecurity        Category = "security"
	CategoryPerformance     Category = "performance"
	CategoryStyle           Category = "style"
	CategoryMaintainability Category = "maintainability"
	CategoryOther           Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBug, CategorySecurity, CategoryPerformance, CategoryStyle, CategoryMaintainability, CategoryOther:
		return true
	}
	return false
}

// Issue is one finding in a review.
type Issue struct {
	ID           string   `json:"id"`
	Line         int      `json:"line"`
	Severity     Severity `json:"severity"`
	Category     Category `json:"category"`
	Title        string   `json:"title"`
	Explanation  string   `json:"explanation"`
	SuggestedFix string   `json:"suggestedFix"`
}

// Summary holds counts derived from a review's issues.
type Summary struct {
	IssueCount    int `json:"issueCount"`
	CriticalCount int `json:"criticalCount"`
	WarningCount  int `json:"warningCount"`
}

// ComputeSummary derives the summary from the issues themselves.
func ComputeSummary(issues []Issue) Summary {
	s := Summary{IssueCount: len(issues)}
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityCritical:
			s.CriticalCount++
		case SeverityWarning:
			s.WarningCount++
		}
	}
	return s
}

// CodeReviewResult is the canonical review record returned to callers.
// Degraded is set when no usable model response backed the result; such a
// result is never cached.
type CodeReviewResult struct {
	UserID       string     `json:"userId"`
	Subject      SubjectRef `json:"subject"`
	RawCode      string     `json:"rawCode"`
	Language     string     `json:"codeLanguage"`
	CodeLength   int        `json:"codeLength"`
	Summary      Summary    `json:"summary"`
	Issues       []Issue    `json:"issues"`
	Suggestions  []string   `json:"suggestions"`
	ImprovedCode string     `json:"improvedCode,omitempty"`
	Degraded     bool       `json:"degraded"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// CachedReviewEntry is a review stored under a cache key.
type CachedReviewEntry struct {
	ID        string           `json:"id"`
	Key       CacheKey         `json:"key"`
	Result    CodeReviewResult `json:"result"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ReviewRecord is one entry in a user's review history.
type ReviewRecord struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	CacheKey  string           `json:"cacheKey,omitempty"`
	FromCache bool             `json:"fromCache"`
	Result    CodeReviewResult `json:"result"`
	CreatedAt time.Time        `json:"createdAt"`
}
