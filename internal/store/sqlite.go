package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/codereview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer, and background history
	// inserts race with request-path cache upserts.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const defaultListLimit = 50

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// --- Cached reviews ---

const cachedReviewColumns = `id, subject_kind, user_id, owner, repo, path, revision, content_hash, result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCachedReview(row rowScanner) (*models.CachedReviewEntry, error) {
	e := &models.CachedReviewEntry{}
	var kind, result string
	if err := row.Scan(&e.ID, &kind, &e.Key.UserID, &e.Key.Owner, &e.Key.Repo, &e.Key.Path,
		&e.Key.Revision, &e.Key.ContentHash, &result, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Key.Kind = models.SubjectKind(kind)
	if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
		return nil, fmt.Errorf("decode cached result %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *SQLiteStore) GetCachedReview(ctx context.Context, key string) (*models.CachedReviewEntry, error) {
	e, err := scanCachedReview(s.db.QueryRowContext(ctx,
		`SELECT `+cachedReviewColumns+` FROM cached_reviews WHERE cache_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cached review %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cached review: %w", err)
	}
	return e, nil
}

// UpsertCachedReview inserts the entry or, when its key already exists,
// replaces the stored result. On return entry carries the persisted id and
// timestamps.
func (s *SQLiteStore) UpsertCachedReview(ctx context.Context, entry *models.CachedReviewEntry) error {
	key := entry.Key.String()
	if key == "" {
		return fmt.Errorf("upsert cached review: empty cache key")
	}
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if entry.ID == "" {
		entry.ID = newULID()
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	k := entry.Key
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cached_reviews (id, cache_key, subject_kind, user_id, owner, repo, path, revision, content_hash, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
		entry.ID, key, string(k.Kind), k.UserID, k.Owner, k.Repo, k.Path, k.Revision, k.ContentHash,
		string(result), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert cached review: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM cached_reviews WHERE cache_key = ?`, key,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return fmt.Errorf("read back cached review: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCachedReviews(ctx context.Context, filter CacheListFilter) ([]*models.CachedReviewEntry, error) {
	query := `SELECT ` + cachedReviewColumns + ` FROM cached_reviews WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += " AND subject_kind = ?"
		args = append(args, string(filter.Kind))
	}
	switch {
	case filter.UserID != "" && filter.IncludeShared:
		query += " AND (user_id = ? OR user_id = '')"
		args = append(args, filter.UserID)
	case filter.UserID != "":
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cached reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.CachedReviewEntry
	for rows.Next() {
		e, err := scanCachedReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cached review: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Review history ---

const reviewColumns = `id, user_id, cache_key, from_cache, result, created_at`

func scanReview(row rowScanner) (*models.ReviewRecord, error) {
	r := &models.ReviewRecord{}
	var result string
	if err := row.Scan(&r.ID, &r.UserID, &r.CacheKey, &r.FromCache, &result, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &r.Result); err != nil {
		return nil, fmt.Errorf("decode review %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *SQLiteStore) CreateReview(ctx context.Context, r *models.ReviewRecord) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	result, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("encode review result: %w", err)
	}

	sum := r.Result.Summary
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, user_id, subject_kind, cache_key, from_cache, language, issue_count, critical_count, warning_count, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Result.Subject.Kind), r.CacheKey, boolToInt(r.FromCache), r.Result.Language,
		sum.IssueCount, sum.CriticalCount, sum.WarningCount, string(result), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	r, err := scanReview(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.ReviewRecord, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Kind != "" {
		query += " AND subject_kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.ReviewRecord
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
