package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v71/github"
)

// GitHubConfig configures the GitHub fetcher.
type GitHubConfig struct {
	Token string
	// BaseURL overrides the API root, e.g. for GitHub Enterprise or tests.
	BaseURL    string
	HTTPClient *http.Client
}

// GitHubFetcher implements Fetcher on the GitHub REST API.
type GitHubFetcher struct {
	client *github.Client
}

// NewGitHubFetcher creates a GitHub client. Requests are unauthenticated when
// no token is configured.
func NewGitHubFetcher(cfg GitHubConfig) (*GitHubFetcher, error) {
	client := github.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubFetcher{client: client}, nil
}

// LatestRevision returns the sha of the newest commit touching path.
func (g *GitHubFetcher) LatestRevision(ctx context.Context, owner, repo, path string) (string, error) {
	commits, resp, err := g.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		Path:        path,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", newFetchError("latest_revision", owner, repo, path, resp, err)
	}
	if len(commits) == 0 || commits[0].GetSHA() == "" {
		return "", &FetchError{
			Op: "latest_revision", Owner: owner, Repo: repo, Path: path,
			StatusCode: http.StatusNotFound, Err: ErrNoCommits,
		}
	}
	return commits[0].GetSHA(), nil
}

// FetchContent returns the decoded file content at ref.
func (g *GitHubFetcher) FetchContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	file, dir, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, newFetchError("fetch_content", owner, repo, path, resp, err)
	}
	if file == nil || dir != nil {
		return nil, &FetchError{
			Op: "fetch_content", Owner: owner, Repo: repo, Path: path,
			Err: errors.New("path is a directory"),
		}
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, &FetchError{Op: "fetch_content", Owner: owner, Repo: repo, Path: path, Err: err}
	}
	return []byte(content), nil
}

// ListFiles lists every file in the repository tree at ref, or at the
// default branch when ref is empty.
func (g *GitHubFetcher) ListFiles(ctx context.Context, owner, repo, ref string) (RepoTree, error) {
	if ref == "" {
		r, resp, err := g.client.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return RepoTree{}, newFetchError("list_files", owner, repo, "", resp, err)
		}
		ref = r.GetDefaultBranch()
	}

	tree, resp, err := g.client.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return RepoTree{}, newFetchError("list_files", owner, repo, "", resp, err)
	}

	out := RepoTree{Owner: owner, Repo: repo, Ref: ref, Truncated: tree.GetTruncated()}
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		out.Files = append(out.Files, RepoFile{Path: e.GetPath(), Size: e.GetSize()})
	}
	return out, nil
}

func newFetchError(op, owner, repo, path string, resp *github.Response, err error) *FetchError {
	fe := &FetchError{Op: op, Owner: owner, Repo: repo, Path: path, Err: err}
	var ge *github.ErrorResponse
	switch {
	case errors.As(err, &ge) && ge.Response != nil:
		fe.StatusCode = ge.Response.StatusCode
	case resp != nil && resp.Response != nil:
		fe.StatusCode = resp.StatusCode
	}
	return fe
}
