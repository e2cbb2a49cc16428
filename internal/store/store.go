package store

import (
	"context"
	"errors"

	"github.com/joescharf/codereview/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CacheListFilter specifies filters for listing cached reviews.
type CacheListFilter struct {
	Kind   models.SubjectKind
	UserID string
	// IncludeShared also returns entries owned by nobody (image reviews)
	// when UserID is set.
	IncludeShared bool
	Limit         int
}

// ReviewListFilter specifies filters for listing review history.
type ReviewListFilter struct {
	UserID string
	Kind   models.SubjectKind
	Limit  int
}

// Store defines the persistence interface for codereview.
type Store interface {
	// Cached reviews. Keys are unique; upserting an existing key replaces its
	// result and keeps the entry's id and creation time.
	GetCachedReview(ctx context.Context, key string) (*models.CachedReviewEntry, error)
	UpsertCachedReview(ctx context.Context, entry *models.CachedReviewEntry) error
	ListCachedReviews(ctx context.Context, filter CacheListFilter) ([]*models.CachedReviewEntry, error)

	// Review history
	CreateReview(ctx context.Context, r *models.ReviewRecord) error
	GetReview(ctx context.Context, id string) (*models.ReviewRecord, error)
	ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.ReviewRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
