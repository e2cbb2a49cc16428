package cmd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codereview/internal/source"
)

type fakeTreeFetcher struct {
	fakeFetcher
	refs []string
}

func (f *fakeTreeFetcher) ListFiles(_ context.Context, owner, repo, ref string) (source.RepoTree, error) {
	f.refs = append(f.refs, ref)
	if ref == "" {
		ref = "main"
	}
	return source.RepoTree{
		Owner: owner,
		Repo:  repo,
		Ref:   ref,
		Files: []source.RepoFile{{Path: "src/app.py", Size: 42}, {Path: "README.md", Size: 7}},
	}, nil
}

func TestFilesRun(t *testing.T) {
	testEnv(t)
	fetcher := &fakeTreeFetcher{}
	repoResolver = source.NewRepoResolver(fetcher, logger)

	require.NoError(t, filesRun(testCmd(), "octo/hello"))
	out := outString()
	assert.Contains(t, out, "src/app.py")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "README.md")

	require.NoError(t, filesRun(testCmd(), "https://github.com/octo/hello/tree/dev"))
	assert.Equal(t, []string{"", "dev"}, fetcher.refs)
}

func TestFilesRun_JSONAndRefFlag(t *testing.T) {
	testEnv(t)
	fetcher := &fakeTreeFetcher{}
	repoResolver = source.NewRepoResolver(fetcher, logger)

	filesJSON, filesRef = true, "v1"
	t.Cleanup(func() { filesJSON, filesRef = false, "" })

	require.NoError(t, filesRun(testCmd(), "octo/hello"))

	var tree source.RepoTree
	require.NoError(t, json.Unmarshal([]byte(outString()), &tree))
	assert.Equal(t, "v1", tree.Ref)
	assert.Len(t, tree.Files, 2)
}

func TestFilesRun_Errors(t *testing.T) {
	testEnv(t)
	repoResolver = source.NewRepoResolver(fakeFetcher{}, logger)

	assert.ErrorIs(t, filesRun(testCmd(), "not-a-repo"), source.ErrInvalidGitHubURL)
	assert.ErrorIs(t, filesRun(testCmd(), "octo/hello"), source.ErrListingUnsupported)
}
