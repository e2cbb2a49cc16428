package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codereview/internal/models"
)

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		raw  string
		want models.RepositoryFile
		ref  string
	}{
		{
			"https://github.com/octo/hello/blob/main/src/app/main.go",
			models.RepositoryFile{Owner: "octo", Repo: "hello", Path: "src/app/main.go"}, "main",
		},
		{
			"https://raw.githubusercontent.com/octo/hello/abc123/README.md",
			models.RepositoryFile{Owner: "octo", Repo: "hello", Path: "README.md"}, "abc123",
		},
		{
			"https://www.github.com/octo/hello.git/raw/v1/a.py",
			models.RepositoryFile{Owner: "octo", Repo: "hello", Path: "a.py"}, "v1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ref, err := ParseGitHubURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestParseGitHubURL_Invalid(t *testing.T) {
	for _, raw := range []string{
		"https://github.com/octo/hello",
		"https://github.com/octo/hello/tree/main/src",
		"https://gitlab.com/octo/hello/blob/main/a.go",
		"::not a url",
	} {
		_, _, err := ParseGitHubURL(raw)
		assert.ErrorIs(t, err, ErrInvalidGitHubURL, raw)
	}
}

func TestParseGitHubRepo(t *testing.T) {
	tests := []struct {
		raw              string
		owner, repo, ref string
	}{
		{"octo/hello", "octo", "hello", ""},
		{"https://github.com/octo/hello.git", "octo", "hello", ""},
		{"https://github.com/octo/hello/tree/feature/x", "octo", "hello", "feature/x"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			owner, repo, ref, err := ParseGitHubRepo(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.ref, ref)
		})
	}

	for _, raw := range []string{"", "octo", "a/b/c", "https://gitlab.com/octo/hello", "https://github.com/octo/hello/blob/main/a.go"} {
		_, _, _, err := ParseGitHubRepo(raw)
		assert.ErrorIs(t, err, ErrInvalidGitHubURL, raw)
	}
}
