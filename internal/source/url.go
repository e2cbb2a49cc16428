package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/joescharf/codereview/internal/models"
)

// ErrInvalidGitHubURL is returned for URLs that do not point at a file.
var ErrInvalidGitHubURL = errors.New("not a GitHub file URL")

// ParseGitHubURL extracts owner, repo and path from a GitHub file URL:
//
//	https://github.com/<owner>/<repo>/blob/<ref>/<path>
//	https://raw.githubusercontent.com/<owner>/<repo>/<ref>/<path>
//
// The ref is returned separately; reviews always use the latest revision.
func ParseGitHubURL(raw string) (models.RepositoryFile, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return models.RepositoryFile{}, "", fmt.Errorf("%w: %v", ErrInvalidGitHubURL, err)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	var owner, repo, ref string
	var rest []string
	switch strings.ToLower(u.Host) {
	case "github.com", "www.github.com":
		if len(segs) < 5 || (segs[2] != "blob" && segs[2] != "raw") {
			return models.RepositoryFile{}, "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
		}
		owner, repo, ref, rest = segs[0], segs[1], segs[3], segs[4:]
	case "raw.githubusercontent.com":
		if len(segs) < 4 {
			return models.RepositoryFile{}, "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
		}
		owner, repo, ref, rest = segs[0], segs[1], segs[2], segs[3:]
	default:
		return models.RepositoryFile{}, "", fmt.Errorf("%w: host %q", ErrInvalidGitHubURL, u.Host)
	}

	path := strings.Join(rest, "/")
	if owner == "" || repo == "" || path == "" {
		return models.RepositoryFile{}, "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
	}
	return models.RepositoryFile{
		Owner: owner,
		Repo:  strings.TrimSuffix(repo, ".git"),
		Path:  path,
	}, ref, nil
}

// ParseGitHubRepo accepts "owner/repo" or a repository URL such as
// https://github.com/owner/repo or https://github.com/owner/repo/tree/<ref>
// and returns owner, repo and the ref if one is given.
func ParseGitHubRepo(raw string) (owner, repo, ref string, err error) {
	raw = strings.TrimSpace(raw)
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	if strings.Contains(raw, "://") {
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", "", "", fmt.Errorf("%w: %v", ErrInvalidGitHubURL, perr)
		}
		switch strings.ToLower(u.Host) {
		case "github.com", "www.github.com":
		default:
			return "", "", "", fmt.Errorf("%w: host %q", ErrInvalidGitHubURL, u.Host)
		}
		segs = strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) >= 4 && segs[2] == "tree" {
			ref = strings.Join(segs[3:], "/")
		} else if len(segs) != 2 {
			return "", "", "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
		}
	} else if len(segs) != 2 {
		return "", "", "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
	}

	owner, repo = segs[0], strings.TrimSuffix(segs[1], ".git")
	if owner == "" || repo == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrInvalidGitHubURL, raw)
	}
	return owner, repo, ref, nil
}
