package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/retry"
	"github.com/joescharf/codereview/internal/review"
	"github.com/joescharf/codereview/internal/source"
	"github.com/joescharf/codereview/internal/store"
)

const (
	// UserHeader carries the caller's user id. Authentication happens upstream.
	UserHeader      = "X-User-ID"
	requestIDHeader = "X-Request-ID"
	anonymousUser   = "anonymous"

	maxJSONBody  = 1 << 20
	maxImageBody = 10 << 20

	retryAfterSeconds = 60
)

// Reviewer runs reviews. *review.Service implements it.
type Reviewer interface {
	Review(ctx context.Context, subject models.Subject, userID string) (*review.Outcome, error)
}

// Server provides the REST API handlers.
type Server struct {
	reviews Reviewer
	store   store.Store
	logger  *zap.Logger
}

// NewServer creates a new API server.
func NewServer(r Reviewer, s store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{reviews: r, store: s, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reviews/code", s.reviewCode)
	mux.HandleFunc("POST /api/v1/reviews/image", s.reviewImage)
	mux.HandleFunc("POST /api/v1/reviews/repo", s.reviewRepo)

	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)

	mux.HandleFunc("GET /api/v1/cache", s.listCache)

	mux.HandleFunc("GET /healthz", s.healthz)

	return requestIDMiddleware(s.loggingMiddleware(corsMiddleware(mux)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", w.Header().Get(requestIDHeader)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func userID(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return u
	}
	return anonymousUser
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// --- Reviews ---

type codeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type imageRequest struct {
	// Image is base64, optionally as a data URL.
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

type repoRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
	// URL may be given instead of owner, repo and path.
	URL string `json:"url"`
}

func (s *Server) reviewCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	s.serveReview(w, r, models.InlineCode{Code: req.Code, Language: req.Language})
}

func (s *Server) reviewImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var subject models.Image
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field \"image\" is required")
			return
		}
		defer func() { _ = file.Close() }()

		if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" && !strings.HasPrefix(ct, "image/") {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type %q", ct))
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read image: "+err.Error())
			return
		}
		subject = models.Image{Data: data, Filename: header.Filename}
	} else {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		data, err := source.DecodeImageInput(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subject = models.Image{Data: data, Filename: req.Filename}
	}

	s.serveReview(w, r, subject)
}

func (s *Server) reviewRepo(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	subject := models.RepositoryFile{Owner: req.Owner, Repo: req.Repo, Path: req.Path}
	if req.URL != "" {
		parsed, _, err := source.ParseGitHubURL(req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subject = parsed
	}
	if subject.Owner == "" || subject.Repo == "" || subject.Path == "" {
		writeError(w, http.StatusBadRequest, "owner, repo and path (or url) are required")
		return
	}
	s.serveReview(w, r, subject)
}

func (s *Server) serveReview(w http.ResponseWriter, r *http.Request, subject models.Subject) {
	out, err := s.reviews.Review(r.Context(), subject, userID(r))
	if err == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	kind := review.KindOf(err)
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	body := map[string]any{
		"error": err.Error(),
		"kind":  kind.String(),
	}
	if out != nil {
		body["result"] = out.Result
	}
	writeJSON(w, status, body)
}

// statusForError maps review failures onto HTTP statuses.
func statusForError(err error) int {
	switch review.KindOf(err) {
	case review.KindInvalidInput:
		return http.StatusBadRequest
	case review.KindFetch:
		var fe *source.FetchError
		if errors.As(err, &fe) && fe.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusFailedDependency
	case review.KindQuotaExhausted:
		return http.StatusTooManyRequests
	case review.KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusRequestTimeout
	}
	if retry.IsQuotaExhausted(err) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// --- History ---

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListReviews(r.Context(), store.ReviewListFilter{
		UserID: userID(r),
		Kind:   models.SubjectKind(r.URL.Query().Get("kind")),
		Limit:  queryLimit(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*models.ReviewRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetReview(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Other users' reviews are reported as missing.
	if rec.UserID != userID(r) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("review %s: not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Cache ---

func (s *Server) listCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListCachedReviews(r.Context(), store.CacheListFilter{
		Kind:          models.SubjectKind(r.URL.Query().Get("kind")),
		UserID:        userID(r),
		IncludeShared: true,
		Limit:         queryLimit(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entryOut struct {
		ID        string          `json:"id"`
		Key       string          `json:"key"`
		Subject   models.CacheKey `json:"subject"`
		Language  string          `json:"codeLanguage"`
		Summary   models.Summary  `json:"summary"`
		CreatedAt time.Time       `json:"createdAt"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}
	out := make([]entryOut, len(entries))
	for i, e := range entries {
		out[i] = entryOut{
			ID:        e.ID,
			Key:       e.Key.String(),
			Subject:   e.Key,
			Language:  e.Result.Language,
			Summary:   e.Result.Summary,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
