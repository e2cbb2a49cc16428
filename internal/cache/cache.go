// Package cache stores finished reviews under their cache keys.
//
// Keys are unique: storing under an existing key replaces the previous result
// (latest wins). Entries never expire. A repository file is invalidated only
// by a new revision, which produces a new key.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/store"
)

// ReviewCache looks up and stores reviews by key.
type ReviewCache interface {
	// Lookup returns the entry for key. A miss is (nil, false, nil).
	Lookup(ctx context.Context, key models.CacheKey) (*models.CachedReviewEntry, bool, error)
	// Store saves result under key and returns the persisted entry.
	Store(ctx context.Context, key models.CacheKey, result models.CodeReviewResult) (*models.CachedReviewEntry, error)
}

// StoreCache implements ReviewCache on a store.Store.
type StoreCache struct {
	store store.Store
}

// New returns a cache backed by s.
func New(s store.Store) *StoreCache {
	return &StoreCache{store: s}
}

func (c *StoreCache) Lookup(ctx context.Context, key models.CacheKey) (*models.CachedReviewEntry, bool, error) {
	k := key.String()
	if k == "" {
		return nil, false, nil
	}
	entry, err := c.store.GetCachedReview(ctx, k)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return entry, true, nil
}

func (c *StoreCache) Store(ctx context.Context, key models.CacheKey, result models.CodeReviewResult) (*models.CachedReviewEntry, error) {
	if key.String() == "" {
		return nil, fmt.Errorf("cache store: key has no encoding")
	}
	if result.Degraded {
		return nil, fmt.Errorf("cache store: refusing degraded result")
	}
	entry := &models.CachedReviewEntry{Key: key, Result: result}
	if err := c.store.UpsertCachedReview(ctx, entry); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return entry, nil
}
