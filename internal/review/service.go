// Package review runs the code review pipeline: resolve the subject, check
// the cache, call the model, normalize its answer and store the result.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joescharf/codereview/internal/cache"
	"github.com/joescharf/codereview/internal/llm"
	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/normalize"
	"github.com/joescharf/codereview/internal/retry"
	"github.com/joescharf/codereview/internal/source"
)

// Invoker calls the model. *llm.Gate implements it.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (string, error)
}

// HistoryRecorder persists one entry of review history.
type HistoryRecorder interface {
	CreateReview(ctx context.Context, r *models.ReviewRecord) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	LLM     Invoker
	Cache   cache.ReviewCache
	Repo    *source.RepoResolver
	Images  source.ImageResolver
	History HistoryRecorder
	Logger  *zap.Logger
}

// Config tunes a Service.
type Config struct {
	// DedupeInFlight makes concurrent misses on the same key share one
	// model call.
	DedupeInFlight bool
	// HistoryTimeout bounds each background history insert.
	HistoryTimeout time.Duration
	// FlightTimeout bounds a shared miss. It runs detached from any single
	// caller so one caller leaving does not fail the others.
	FlightTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DedupeInFlight: true,
		HistoryTimeout: 10 * time.Second,
		FlightTimeout:  10 * time.Minute,
	}
}

// Outcome is a served review.
type Outcome struct {
	Result    models.CodeReviewResult `json:"result"`
	FromCache bool                    `json:"fromCache"`
	// Persisted reports whether Result is stored in the review cache.
	Persisted bool   `json:"persisted"`
	EntryID   string `json:"entryId,omitempty"`
	ReviewID  string `json:"reviewId,omitempty"`
	// Shared is set when the result came from a concurrent caller's model call.
	Shared bool `json:"shared,omitempty"`
}

// Service is the review orchestrator. It is safe for concurrent use.
type Service struct {
	llm     Invoker
	cache   cache.ReviewCache
	repo    *source.RepoResolver
	images  source.ImageResolver
	history HistoryRecorder
	logger  *zap.Logger
	cfg     Config

	flight singleflight.Group
	wg     sync.WaitGroup
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = DefaultConfig().HistoryTimeout
	}
	if cfg.FlightTimeout <= 0 {
		cfg.FlightTimeout = DefaultConfig().FlightTimeout
	}
	return &Service{
		llm:     deps.LLM,
		cache:   deps.Cache,
		repo:    deps.Repo,
		images:  deps.Images,
		history: deps.History,
		logger:  logger,
		cfg:     cfg,
	}
}

// Wait blocks until background history writes and shared misses have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Review reviews subject on behalf of userID.
//
// On a cache hit the stored result is returned under userID and the model is
// not called. When the model fails for any reason other than quota
// exhaustion or the caller leaving, Review returns a degraded Outcome
// together with a KindReview error. A caller whose context ends gets a
// KindCanceled error and no result.
func (s *Service) Review(ctx context.Context, subject models.Subject, userID string) (*Outcome, error) {
	start := time.Now()
	var (
		out *Outcome
		key models.CacheKey
		err error
	)
	switch sub := subject.(type) {
	case nil:
		err = &Error{Kind: KindInvalidInput, Op: "review", Err: errors.New("no subject")}
	case models.InlineCode, models.Image, models.RepositoryFile:
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &Error{Kind: KindCanceled, Op: "review", Err: ctxErr}
			break
		}
		out, key, err = s.dispatch(ctx, sub, userID)
	default:
		err = &Error{Kind: KindInvalidInput, Op: "review", Err: fmt.Errorf("unsupported subject %T", subject)}
	}

	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.Duration("elapsed", time.Since(start)),
	}
	if subject != nil {
		fields = append(fields, zap.String("kind", string(subject.Kind())))
	}
	if !key.IsZero() {
		fields = append(fields, zap.String("cache_key", key.String()))
	}
	if err != nil {
		s.logger.Error("review failed", append(fields, zap.Stringer("error_kind", KindOf(err)), zap.Error(err))...)
		return out, err
	}

	out.ReviewID = ulid.Make().String()
	s.logger.Info("review served", append(fields,
		zap.Bool("from_cache", out.FromCache),
		zap.Bool("persisted", out.Persisted),
		zap.Bool("degraded", out.Result.Degraded),
		zap.Int("issues", out.Result.Summary.IssueCount),
	)...)
	s.recordHistory(ctx, out, userID, key)
	return out, nil
}

func (s *Service) dispatch(ctx context.Context, subject models.Subject, userID string) (*Outcome, models.CacheKey, error) {
	switch sub := subject.(type) {
	case models.Image:
		return s.reviewImage(ctx, sub, userID)
	case models.RepositoryFile:
		return s.reviewRepositoryFile(ctx, sub, userID)
	default:
		out, err := s.reviewInline(ctx, subject.(models.InlineCode), userID)
		return out, models.CacheKey{}, err
	}
}

func (s *Service) reviewInline(ctx context.Context, sub models.InlineCode, userID string) (*Outcome, error) {
	if strings.TrimSpace(sub.Code) == "" {
		return nil, &Error{Kind: KindInvalidInput, Op: "review inline", Err: errors.New("code is empty")}
	}
	ref := models.SubjectRef{Kind: models.SubjectInline}
	res, err := s.runReview(ctx, sub.Code, sub.Language, userID, ref)
	if err != nil {
		return degradedOutcome(res, err), err
	}
	return &Outcome{Result: res}, nil
}

func (s *Service) reviewImage(ctx context.Context, sub models.Image, userID string) (*Outcome, models.CacheKey, error) {
	img, err := s.images.Resolve(sub.Data, sub.Filename)
	if err != nil {
		return nil, models.CacheKey{}, resolveError("resolve image", err)
	}
	key := models.ImageKey(img.Hash)
	ref := models.SubjectRef{Kind: models.SubjectImage, ContentHash: img.Hash}

	out, err := s.cached(ctx, key, userID, func(ctx context.Context) (*Outcome, error) {
		code, err := s.extractCode(ctx, img)
		if err != nil {
			if KindOf(err) == KindReview {
				res := normalize.Empty("", "", userID)
				res.Subject = ref
				return degradedOutcome(res, err), err
			}
			return nil, err
		}
		return s.reviewAndStore(ctx, key, code, "", userID, ref)
	})
	return out, key, err
}

func (s *Service) reviewRepositoryFile(ctx context.Context, sub models.RepositoryFile, userID string) (*Outcome, models.CacheKey, error) {
	if s.repo == nil {
		return nil, models.CacheKey{}, &Error{Kind: KindInvalidInput, Op: "resolve repository file", Err: errors.New("repository reviews are not configured")}
	}
	rev, err := s.repo.Revision(ctx, sub)
	if err != nil {
		return nil, models.CacheKey{}, resolveError("resolve repository file", err)
	}
	file := models.RepositoryFile{
		Owner: strings.TrimSpace(sub.Owner),
		Repo:  strings.TrimSpace(sub.Repo),
		Path:  strings.Trim(strings.TrimSpace(sub.Path), "/"),
	}
	key := models.RepositoryFileKey(userID, file.Owner, file.Repo, file.Path, rev)
	ref := models.SubjectRef{
		Kind:     models.SubjectRepositoryFile,
		Owner:    file.Owner,
		Repo:     file.Repo,
		Path:     file.Path,
		Revision: rev,
	}

	out, err := s.cached(ctx, key, userID, func(ctx context.Context) (*Outcome, error) {
		content, err := s.repo.Content(ctx, file, rev)
		if err != nil {
			return nil, resolveError("fetch repository file", err)
		}
		return s.reviewAndStore(ctx, key, content.Content, "", userID, ref)
	})
	return out, key, err
}

// cached serves key from the cache or runs miss. Concurrent misses on the
// same key share a single run when deduplication is on. The shared run is
// detached from every caller's cancellation and bounded by FlightTimeout;
// each caller stops waiting when its own context ends.
//
// Image keys are shared across users, so results are restamped with the
// caller's user id.
func (s *Service) cached(ctx context.Context, key models.CacheKey, userID string, miss func(context.Context) (*Outcome, error)) (*Outcome, error) {
	if out, ok := s.lookup(ctx, key); ok {
		return ownedBy(out, userID), nil
	}
	if !s.cfg.DedupeInFlight {
		return miss(ctx)
	}

	type flightResult struct {
		out    *Outcome
		err    error
		shared bool
	}
	ch := make(chan flightResult, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		v, err, shared := s.flight.Do(key.String(), func() (any, error) {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FlightTimeout)
			defer cancel()
			// A concurrent flight may have just stored this key.
			if out, ok := s.lookup(fctx, key); ok {
				return out, nil
			}
			return miss(fctx)
		})
		out, _ := v.(*Outcome)
		ch <- flightResult{out: out, err: err, shared: shared}
	}()

	var r flightResult
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, &Error{Kind: KindCanceled, Op: "review", Err: ctx.Err()}
	}
	if r.out == nil {
		return nil, r.err
	}
	out := ownedBy(r.out, userID)
	out.Shared = r.shared
	return out, r.err
}

// ownedBy returns a copy of out whose result belongs to userID.
func ownedBy(out *Outcome, userID string) *Outcome {
	cp := *out
	cp.Result.UserID = userID
	return &cp
}

func (s *Service) lookup(ctx context.Context, key models.CacheKey) (*Outcome, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, ok, err := s.cache.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed, treating as miss",
			zap.String("cache_key", key.String()),
			zap.Error(err),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Outcome{
		Result:    entry.Result,
		FromCache: true,
		Persisted: true,
		EntryID:   entry.ID,
	}, true
}

// reviewAndStore runs the model on code and caches the result unless it is
// degraded. A failed cache write is logged and does not fail the review.
func (s *Service) reviewAndStore(ctx context.Context, key models.CacheKey, code, language, userID string, ref models.SubjectRef) (*Outcome, error) {
	res, err := s.runReview(ctx, code, language, userID, ref)
	if err != nil {
		return degradedOutcome(res, err), err
	}

	out := &Outcome{Result: res}
	if res.Degraded || s.cache == nil {
		return out, nil
	}
	entry, err := s.cache.Store(ctx, key, res)
	if err != nil {
		s.logger.Error("cache store failed",
			zap.String("cache_key", key.String()),
			zap.Error(err),
		)
		return out, nil
	}
	out.Persisted = true
	out.EntryID = entry.ID
	return out, nil
}

// runReview calls the model and normalizes its answer. On a quota error the
// result is empty; on any other model error it is a degraded fallback.
func (s *Service) runReview(ctx context.Context, code, language, userID string, ref models.SubjectRef) (models.CodeReviewResult, error) {
	if s.llm == nil {
		return models.CodeReviewResult{}, &Error{Kind: KindReview, Op: "review", Err: errors.New("no model configured")}
	}
	raw, err := s.llm.Invoke(ctx, llm.Request{
		System: SystemPrompt,
		Parts:  []llm.Part{llm.TextPart(BuildReviewPrompt(code, language))},
		JSON:   true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.CodeReviewResult{}, &Error{Kind: KindCanceled, Op: "review", Err: ctxErr}
		}
		if retry.IsQuotaExhausted(err) {
			return models.CodeReviewResult{}, &Error{Kind: KindQuotaExhausted, Op: "review", Err: err}
		}
		res := normalize.Empty(code, language, userID)
		res.Subject = ref
		return res, &Error{Kind: KindReview, Op: "review", Err: err}
	}

	res := normalize.Normalize(raw, code, language, userID)
	res.Subject = ref
	if res.Degraded {
		s.logger.Warn("model returned unusable review output",
			zap.String("kind", string(ref.Kind)),
			zap.Int("raw_length", len(raw)),
		)
	}
	return res, nil
}

// extractCode transcribes the code shown in img.
func (s *Service) extractCode(ctx context.Context, img source.ResolvedImage) (string, error) {
	if s.llm == nil {
		return "", &Error{Kind: KindReview, Op: "extract code", Err: errors.New("no model configured")}
	}
	raw, err := s.llm.Invoke(ctx, llm.Request{
		Parts: []llm.Part{
			llm.BlobPart(img.Data, img.MIMEType),
			llm.TextPart(ExtractionPrompt),
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &Error{Kind: KindCanceled, Op: "extract code", Err: ctxErr}
		}
		if retry.IsQuotaExhausted(err) {
			return "", &Error{Kind: KindQuotaExhausted, Op: "extract code", Err: err}
		}
		return "", &Error{Kind: KindReview, Op: "extract code", Err: err}
	}
	code := ExtractCode(raw)
	if strings.TrimSpace(code) == "" {
		return "", &Error{Kind: KindInvalidInput, Op: "extract code", Err: errors.New("no code found in image")}
	}
	return code, nil
}

func (s *Service) recordHistory(ctx context.Context, out *Outcome, userID string, key models.CacheKey) {
	if s.history == nil {
		return
	}
	rec := &models.ReviewRecord{
		ID:        out.ReviewID,
		UserID:    userID,
		CacheKey:  key.String(),
		FromCache: out.FromCache,
		Result:    out.Result,
		CreatedAt: time.Now().UTC(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HistoryTimeout)
		defer cancel()
		if err := s.history.CreateReview(hctx, rec); err != nil {
			s.logger.Warn("record review history failed",
				zap.String("review_id", rec.ID),
				zap.Error(err),
			)
		}
	}()
}

func degradedOutcome(res models.CodeReviewResult, err error) *Outcome {
	if KindOf(err) != KindReview || res.Issues == nil {
		return nil
	}
	res.Degraded = true
	return &Outcome{Result: res}
}

func resolveError(op string, err error) error {
	var fe *source.FetchError
	switch {
	case errors.As(err, &fe):
		return &Error{Kind: KindFetch, Op: op, Err: err}
	case errors.Is(err, source.ErrInvalidRepositoryFile),
		errors.Is(err, source.ErrBinaryContent),
		errors.Is(err, source.ErrUnsupportedImage),
		errors.Is(err, source.ErrCorruptImage),
		errors.Is(err, source.ErrEmptyImage):
		return &Error{Kind: KindInvalidInput, Op: op, Err: err}
	default:
		return &Error{Kind: KindFetch, Op: op, Err: err}
	}
}
