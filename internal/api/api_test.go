package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codereview/internal/models"
	"github.com/joescharf/codereview/internal/retry"
	"github.com/joescharf/codereview/internal/review"
	"github.com/joescharf/codereview/internal/source"
	"github.com/joescharf/codereview/internal/store"
)

// mockReviewer records the subjects it was asked to review.
type mockReviewer struct {
	subjects []models.Subject
	users    []string
	out      *review.Outcome
	err      error
}

func (m *mockReviewer) Review(_ context.Context, subject models.Subject, userID string) (*review.Outcome, error) {
	m.subjects = append(m.subjects, subject)
	m.users = append(m.users, userID)
	return m.out, m.err
}

func okOutcome() *review.Outcome {
	return &review.Outcome{
		Result: models.CodeReviewResult{
			Language:    "go",
			Issues:      []models.Issue{},
			Suggestions: []string{},
		},
		ReviewID: "01TEST",
	}
}

func setupTestServer(t *testing.T, rev *mockReviewer) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return NewServer(rev, s, nil), s
}

func do(t *testing.T, h http.Handler, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	return buf.Bytes()
}

func TestHealthz(t *testing.T) {
	srv, _ := setupTestServer(t, &mockReviewer{})
	w := do(t, srv.Router(), "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReviewCode(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)

	w := do(t, srv.Router(), "POST", "/api/v1/reviews/code", `{"code":"x := 1","language":"go"}`, "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	var out review.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "01TEST", out.ReviewID)

	require.Len(t, rev.subjects, 1)
	assert.Equal(t, models.InlineCode{Code: "x := 1", Language: "go"}, rev.subjects[0])
	assert.Equal(t, "u1", rev.users[0])
}

func TestReviewCode_BadInput(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/reviews/code", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews/code", `{"code":"  "}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rev.subjects)
}

func TestReviewCode_AnonymousUser(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)

	do(t, srv.Router(), "POST", "/api/v1/reviews/code", `{"code":"x"}`, "")
	require.Len(t, rev.users, 1)
	assert.Equal(t, "anonymous", rev.users[0])
}

func TestReviewRepo(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/reviews/repo", `{"owner":"o","repo":"r","path":"f.py"}`, "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews/repo", `{"url":"https://github.com/octo/hello/blob/main/src/a.go"}`, "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, rev.subjects, 2)
	assert.Equal(t, models.RepositoryFile{Owner: "o", Repo: "r", Path: "f.py"}, rev.subjects[0])
	assert.Equal(t, models.RepositoryFile{Owner: "octo", Repo: "hello", Path: "src/a.go"}, rev.subjects[1])

	w = do(t, router, "POST", "/api/v1/reviews/repo", `{"owner":"o"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews/repo", `{"url":"https://example.com/x"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewImage_JSON(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)
	data := tinyPNG(t)

	body, _ := json.Marshal(map[string]string{
		"image":    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		"filename": "a.png",
	})
	w := do(t, srv.Router(), "POST", "/api/v1/reviews/image", string(body), "u1")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rev.subjects, 1)
	assert.Equal(t, models.Image{Data: data, Filename: "a.png"}, rev.subjects[0])

	w = do(t, srv.Router(), "POST", "/api/v1/reviews/image", `{"image":"%%%"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartImage(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestReviewImage_Multipart(t *testing.T) {
	rev := &mockReviewer{out: okOutcome()}
	srv, _ := setupTestServer(t, rev)
	router := srv.Router()
	data := tinyPNG(t)

	body, ct := multipartImage(t, "shot.png", "image/png", data)
	req := httptest.NewRequest("POST", "/api/v1/reviews/image", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rev.subjects, 1)
	assert.Equal(t, models.Image{Data: data, Filename: "shot.png"}, rev.subjects[0])

	body, ct = multipartImage(t, "notes.txt", "text/plain", []byte("hello"))
	req = httptest.NewRequest("POST", "/api/v1/reviews/image", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, rev.subjects, 1)
}

func TestReview_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		out        *review.Outcome
		wantStatus int
		wantKind   string
	}{
		{
			name:       "invalid input",
			err:        &review.Error{Kind: review.KindInvalidInput, Op: "resolve image", Err: source.ErrUnsupportedImage},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
		},
		{
			name:       "fetch not found",
			err:        &review.Error{Kind: review.KindFetch, Op: "x", Err: &source.FetchError{Op: "latest_revision", StatusCode: 404, Err: errors.New("nf")}},
			wantStatus: http.StatusNotFound,
			wantKind:   "fetch_error",
		},
		{
			name:       "fetch upstream failure",
			err:        &review.Error{Kind: review.KindFetch, Op: "x", Err: &source.FetchError{Op: "fetch_content", StatusCode: 502, Err: errors.New("bad gateway")}},
			wantStatus: http.StatusFailedDependency,
			wantKind:   "fetch_error",
		},
		{
			name:       "quota",
			err:        &review.Error{Kind: review.KindQuotaExhausted, Op: "review", Err: &retry.QuotaExhaustedError{Op: "gemini.generate", Attempts: 5, Err: errors.New("429")}},
			wantStatus: http.StatusTooManyRequests,
			wantKind:   "quota_exhausted",
		},
		{
			name:       "caller canceled",
			err:        &review.Error{Kind: review.KindCanceled, Op: "review", Err: context.Canceled},
			wantStatus: http.StatusRequestTimeout,
			wantKind:   "canceled",
		},
		{
			name:       "caller deadline",
			err:        &review.Error{Kind: review.KindCanceled, Op: "review", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantKind:   "canceled",
		},
		{
			name:       "review error with degraded result",
			err:        &review.Error{Kind: review.KindReview, Op: "review", Err: errors.New("400")},
			out:        &review.Outcome{Result: models.CodeReviewResult{Degraded: true, Issues: []models.Issue{}, Suggestions: []string{}}},
			wantStatus: http.StatusInternalServerError,
			wantKind:   "review_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupTestServer(t, &mockReviewer{out: tt.out, err: tt.err})
			w := do(t, srv.Router(), "POST", "/api/v1/reviews/code", `{"code":"x"}`, "u1")
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body["kind"])
			if tt.wantStatus == http.StatusTooManyRequests {
				assert.Equal(t, "60", w.Header().Get("Retry-After"))
			}
			if tt.out != nil {
				result, ok := body["result"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, true, result["degraded"])
			}
		})
	}
}

func TestReviewHistory_API(t *testing.T) {
	srv, s := setupTestServer(t, &mockReviewer{})
	router := srv.Router()
	ctx := context.Background()

	mine := &models.ReviewRecord{UserID: "u1", Result: models.CodeReviewResult{Language: "go", Subject: models.SubjectRef{Kind: models.SubjectInline}}}
	theirs := &models.ReviewRecord{UserID: "u2", Result: models.CodeReviewResult{Language: "py", Subject: models.SubjectRef{Kind: models.SubjectInline}}}
	require.NoError(t, s.CreateReview(ctx, mine))
	require.NoError(t, s.CreateReview(ctx, theirs))

	w := do(t, router, "GET", "/api/v1/reviews", "", "u1")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []*models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	w = do(t, router, "GET", "/api/v1/reviews/"+mine.ID, "", "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/reviews/"+theirs.ID, "", "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/reviews/missing", "", "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/reviews", "", "nobody")
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestListCache_API(t *testing.T) {
	srv, s := setupTestServer(t, &mockReviewer{})
	ctx := context.Background()

	private := &models.CachedReviewEntry{
		Key:    models.RepositoryFileKey("alice", "o", "r", "f.py", "abc123"),
		Result: models.CodeReviewResult{Language: "python", Summary: models.Summary{IssueCount: 2}},
	}
	shared := &models.CachedReviewEntry{
		Key:    models.ImageKey("deadbeef"),
		Result: models.CodeReviewResult{Language: "go"},
	}
	require.NoError(t, s.UpsertCachedReview(ctx, private))
	require.NoError(t, s.UpsertCachedReview(ctx, shared))

	keys := func(path, user string) []string {
		t.Helper()
		w := do(t, srv.Router(), "GET", path, "", user)
		require.Equal(t, http.StatusOK, w.Code)
		var out []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		var ks []string
		for _, e := range out {
			ks = append(ks, e["key"].(string))
		}
		return ks
	}

	assert.ElementsMatch(t, []string{private.Key.String(), shared.Key.String()}, keys("/api/v1/cache", "alice"))
	assert.Equal(t, []string{shared.Key.String()}, keys("/api/v1/cache", "mallory"))
	assert.Equal(t, []string{shared.Key.String()}, keys("/api/v1/cache", ""))

	// The query string cannot widen the caller's view.
	assert.Empty(t, keys("/api/v1/cache?kind=repository_file&user=alice", "mallory"))
	assert.Equal(t, []string{private.Key.String()}, keys("/api/v1/cache?kind=repository_file", "alice"))
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := setupTestServer(t, &mockReviewer{})
	w := do(t, srv.Router(), "OPTIONS", "/api/v1/reviews/code", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), UserHeader)
}
