package models

import (
	"net/url"
	"strings"
)

// SubjectKind names the variant of a review subject.
type SubjectKind string

const (
	SubjectInline         SubjectKind = "inline"
	SubjectImage          SubjectKind = "image"
	SubjectRepositoryFile SubjectKind = "repository_file"
)

// Subject is what a review is about. The set of implementations is closed:
// InlineCode, Image and RepositoryFile.
type Subject interface {
	Kind() SubjectKind
	isSubject()
}

// InlineCode is source text submitted directly by the caller.
type InlineCode struct {
	Code     string
	Language string
}

// Image is a picture of source code.
type Image struct {
	Data     []byte
	Filename string
}

// RepositoryFile is a single file inside a GitHub repository.
type RepositoryFile struct {
	Owner string
	Repo  string
	Path  string
}

func (InlineCode) Kind() SubjectKind     { return SubjectInline }
func (Image) Kind() SubjectKind          { return SubjectImage }
func (RepositoryFile) Kind() SubjectKind { return SubjectRepositoryFile }

func (InlineCode) isSubject()     {}
func (Image) isSubject()          {}
func (RepositoryFile) isSubject() {}

// SubjectRef identifies the reviewed subject inside a stored result.
type SubjectRef struct {
	Kind        SubjectKind `json:"kind"`
	Owner       string      `json:"owner,omitempty"`
	Repo        string      `json:"repo,omitempty"`
	Path        string      `json:"path,omitempty"`
	Revision    string      `json:"revision,omitempty"`
	ContentHash string      `json:"contentHash,omitempty"`
}

// CacheKey identifies a previously computed review. Image keys carry only the
// content hash; repository file keys are scoped to the requesting user and
// pinned to a revision.
type CacheKey struct {
	Kind        SubjectKind `json:"kind"`
	UserID      string      `json:"userId,omitempty"`
	Owner       string      `json:"owner,omitempty"`
	Repo        string      `json:"repo,omitempty"`
	Path        string      `json:"path,omitempty"`
	Revision    string      `json:"revision,omitempty"`
	ContentHash string      `json:"contentHash,omitempty"`
}

// ImageKey returns the cache key for an image with the given sha256 hex digest.
func ImageKey(contentHash string) CacheKey {
	return CacheKey{Kind: SubjectImage, ContentHash: contentHash}
}

// RepositoryFileKey returns the cache key for a file at a revision, scoped to userID.
func RepositoryFileKey(userID, owner, repo, path, revision string) CacheKey {
	return CacheKey{
		Kind:     SubjectRepositoryFile,
		UserID:   userID,
		Owner:    owner,
		Repo:     repo,
		Path:     path,
		Revision: revision,
	}
}

// IsZero reports whether k is the empty key.
func (k CacheKey) IsZero() bool {
	return k == CacheKey{}
}

// String encodes the key. Every component is query-escaped, so two keys encode
// identically only when all of their components are equal.
func (k CacheKey) String() string {
	switch k.Kind {
	case SubjectImage:
		return "image:sha256:" + k.ContentHash
	case SubjectRepositoryFile:
		parts := []string{k.UserID, k.Owner, k.Repo, k.Path}
		for i, p := range parts {
			parts[i] = url.QueryEscape(p)
		}
		return "repo:" + strings.Join(parts, "/") + "@" + url.QueryEscape(k.Revision)
	default:
		return ""
	}
}
