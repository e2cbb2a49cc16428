package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/joescharf/codereview/internal/models"
)

var (
	// ErrInvalidRepositoryFile means owner, repo or path is missing.
	ErrInvalidRepositoryFile = errors.New("owner, repo and path are required")
	// ErrBinaryContent means the fetched file is not UTF-8 text.
	ErrBinaryContent = errors.New("file content is not valid UTF-8 text")
	// ErrNoCommits means no commit touches the requested path.
	ErrNoCommits = errors.New("no commits found for path")
	// ErrListingUnsupported means the fetcher cannot list repository files.
	ErrListingUnsupported = errors.New("file listing is not supported")
)

// Fetcher talks to a source hosting provider.
type Fetcher interface {
	// LatestRevision returns the id of the newest commit touching path.
	LatestRevision(ctx context.Context, owner, repo, path string) (string, error)
	// FetchContent returns the file content at ref.
	FetchContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// TreeLister is implemented by fetchers that can list a repository's files.
type TreeLister interface {
	ListFiles(ctx context.Context, owner, repo, ref string) (RepoTree, error)
}

// RepoFile is one file in a repository tree.
type RepoFile struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

// RepoTree is the file listing of a repository at Ref. Truncated is set when
// the provider returned only part of a very large tree.
type RepoTree struct {
	Owner     string     `json:"owner"`
	Repo      string     `json:"repo"`
	Ref       string     `json:"ref"`
	Files     []RepoFile `json:"files"`
	Truncated bool       `json:"truncated"`
}

// FetchError is a failure talking to the hosting provider. Fetch errors are
// never retried.
type FetchError struct {
	Op         string
	Owner      string
	Repo       string
	Path       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := e.Owner + "/" + e.Repo
	if e.Path != "" {
		target += "/" + e.Path
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFound reports whether the provider answered 404.
func (e *FetchError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ResolvedFile is a repository file pinned to a revision.
type ResolvedFile struct {
	Owner    string
	Repo     string
	Path     string
	Revision string
	Content  string
}

// RepoResolver resolves a repository file to its latest revision and content.
type RepoResolver struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewRepoResolver creates a resolver backed by fetcher.
func NewRepoResolver(fetcher Fetcher, logger *zap.Logger) *RepoResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepoResolver{fetcher: fetcher, logger: logger}
}

// Revision resolves only the latest revision of f. It is enough to build the
// cache key without downloading the file.
func (r *RepoResolver) Revision(ctx context.Context, f models.RepositoryFile) (string, error) {
	f = cleanRepositoryFile(f)
	if f.Owner == "" || f.Repo == "" || f.Path == "" {
		return "", ErrInvalidRepositoryFile
	}
	rev, err := r.fetcher.LatestRevision(ctx, f.Owner, f.Repo, f.Path)
	if err != nil {
		return "", err
	}
	r.logger.Debug("resolved revision",
		zap.String("owner", f.Owner),
		zap.String("repo", f.Repo),
		zap.String("path", f.Path),
		zap.String("revision", rev),
	)
	return rev, nil
}

// Content fetches f at revision.
func (r *RepoResolver) Content(ctx context.Context, f models.RepositoryFile, revision string) (ResolvedFile, error) {
	f = cleanRepositoryFile(f)
	data, err := r.fetcher.FetchContent(ctx, f.Owner, f.Repo, f.Path, revision)
	if err != nil {
		return ResolvedFile{}, err
	}
	if !utf8.Valid(data) {
		return ResolvedFile{}, ErrBinaryContent
	}
	return ResolvedFile{
		Owner:    f.Owner,
		Repo:     f.Repo,
		Path:     f.Path,
		Revision: revision,
		Content:  string(data),
	}, nil
}

// Resolve returns the latest revision of f together with its content.
func (r *RepoResolver) Resolve(ctx context.Context, f models.RepositoryFile) (ResolvedFile, error) {
	rev, err := r.Revision(ctx, f)
	if err != nil {
		return ResolvedFile{}, err
	}
	return r.Content(ctx, f, rev)
}

// ListFiles lists the files of owner/repo at ref; an empty ref means the
// default branch.
func (r *RepoResolver) ListFiles(ctx context.Context, owner, repo, ref string) (RepoTree, error) {
	owner, repo, ref = strings.TrimSpace(owner), strings.TrimSpace(repo), strings.TrimSpace(ref)
	if owner == "" || repo == "" {
		return RepoTree{}, fmt.Errorf("list files: owner and repo are required")
	}
	lister, ok := r.fetcher.(TreeLister)
	if !ok {
		return RepoTree{}, ErrListingUnsupported
	}
	tree, err := lister.ListFiles(ctx, owner, repo, ref)
	if err != nil {
		return RepoTree{}, err
	}
	if tree.Truncated {
		r.logger.Warn("repository tree truncated",
			zap.String("owner", owner),
			zap.String("repo", repo),
			zap.String("ref", tree.Ref),
			zap.Int("files", len(tree.Files)),
		)
	}
	return tree, nil
}

func cleanRepositoryFile(f models.RepositoryFile) models.RepositoryFile {
	return models.RepositoryFile{
		Owner: strings.TrimSpace(f.Owner),
		Repo:  strings.TrimSpace(f.Repo),
		Path:  strings.Trim(strings.TrimSpace(f.Path), "/"),
	}
}
