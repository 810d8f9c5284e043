package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitRef(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		wantURL  string
		wantRef  string
		wantPath string
		wantErr  bool
	}{
		{
			name:    "simple URL",
			ref:     "https://github.com/myorg/myrepo",
			wantURL: "https://github.com/myorg/myrepo.git",
		},
		{
			name:    "URL with .git suffix",
			ref:     "https://github.com/myorg/myrepo.git",
			wantURL: "https://github.com/myorg/myrepo.git",
		},
		{
			name:     "ref and path",
			ref:      "https://github.com/myorg/myrepo?ref=v1.0.0&path=deploy/prod/",
			wantURL:  "https://github.com/myorg/myrepo.git",
			wantRef:  "v1.0.0",
			wantPath: "deploy/prod",
		},
		{
			name:    "scp-like SSH URL",
			ref:     "git@github.com:myorg/myrepo.git?ref=main",
			wantURL: "git@github.com:myorg/myrepo.git",
			wantRef: "main",
		},
		{
			name:    "file URL keeps its path",
			ref:     "file:///srv/repo",
			wantURL: "file:///srv/repo",
		},
		{
			name:    "path escaping the repository",
			ref:     "https://github.com/myorg/myrepo?path=../etc",
			wantErr: true,
		},
		{
			name:    "missing URL",
			ref:     "?ref=main",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGitRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got.URL)
			assert.Equal(t, tt.wantRef, got.Ref)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestGitRef_IsCommit(t *testing.T) {
	assert.True(t, GitRef{Ref: strings.Repeat("a", 40)}.isCommit())
	assert.False(t, GitRef{Ref: "0123abc"}.isCommit(), "abbreviated SHAs may be branch names")
	assert.False(t, GitRef{Ref: "main"}.isCommit())

	assert.True(t, GitRef{Ref: "deadbee"}.mayBeCommit())
	assert.True(t, GitRef{Ref: strings.Repeat("a", 40)}.mayBeCommit())
	assert.False(t, GitRef{Ref: "abc"}.mayBeCommit(), "too short")
	assert.False(t, GitRef{Ref: "release"}.mayBeCommit(), "seven letters but not hex")
}

func TestGitAuth(t *testing.T) {
	env := map[string]string{EnvGitToken: "s3cret"}
	auth := GitAuthFromEnv(func(k string) string { return env[k] })

	method, err := auth.method()
	require.NoError(t, err)
	basic, ok := method.(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "x-access-token", basic.Username)
	assert.Equal(t, "s3cret", basic.Password)

	method, err = GitAuth{Username: "bot", Password: "pw"}.method()
	require.NoError(t, err)
	assert.Equal(t, &http.BasicAuth{Username: "bot", Password: "pw"}, method)

	method, err = GitAuth{}.method()
	require.NoError(t, err)
	assert.Nil(t, method)

	_, err = GitAuth{SSHKeyFile: filepath.Join(t.TempDir(), "missing")}.method()
	assert.Error(t, err)
}

// initRepo creates a repository with one commit containing files
func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@test.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestGitFetcher_FetchLocalRepo(t *testing.T) {
	// Shallow clones over file:// need git-upload-pack
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available, skipping local repo test")
	}

	repoDir := initRepo(t, map[string]string{
		"deploy/app.yaml": configMapYAML,
		"deploy/ns.yaml":  "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: shop\n",
		"root.yaml":       configMapYAML,
	})

	fetcher := NewGitFetcher(NewDiskCache(t.TempDir()), GitAuth{}, false)
	result, err := fetcher.Fetch(context.Background(), "file://"+repoDir+"?path=deploy")
	require.NoError(t, err)

	assert.Len(t, result.Digest, 40, "digest should be the commit SHA")
	require.Len(t, result.Files, 2)
	assert.True(t, strings.HasPrefix(result.Source, "git::file://"))
	assert.True(t, strings.HasSuffix(result.Files[0].Path, "/deploy/app.yaml"), result.Files[0].Path)
	assert.Contains(t, string(result.Files[0].Data), "kind: ConfigMap")

	// The clone is cached by commit
	cached, ok := fetcher.cached(&GitRef{URL: "file://" + repoDir, Path: "deploy"}, result.Digest)
	require.True(t, ok)
	assert.Equal(t, result.Files, cached.Files)

	// A pinned commit is served from the cache
	pinned, err := fetcher.Fetch(context.Background(), "file://"+repoDir+"?path=deploy&ref="+result.Digest)
	require.NoError(t, err)
	assert.Contains(t, pinned.Source, "(cached)")
}

func TestGitFetcher_HexRefs(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available, skipping local repo test")
	}

	repoDir := initRepo(t, map[string]string{"deploy/app.yaml": configMapYAML})
	repo, err := git.PlainOpen(repoDir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	// A branch whose name looks like an abbreviated SHA carries one more file
	branch := plumbing.NewBranchReferenceName("deadbee")
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: branch, Create: true}))
	writeFile(t, filepath.Join(repoDir, "deploy/extra.yaml"), configMapYAML)
	_, err = wt.Add("deploy/extra.yaml")
	require.NoError(t, err)
	_, err = wt.Commit("extra", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@test.com", When: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: head.Name()}))

	fetcher := NewGitFetcher(NewDiskCache(t.TempDir()), GitAuth{}, false)
	onBranch, err := fetcher.Fetch(context.Background(), "file://"+repoDir+"?path=deploy&ref=deadbee")
	require.NoError(t, err)
	assert.Len(t, onBranch.Files, 2)
	assert.NotEqual(t, head.Hash().String(), onBranch.Digest)

	short := head.Hash().String()[:7]
	pinned, err := fetcher.Fetch(context.Background(), "file://"+repoDir+"?path=deploy&ref="+short)
	require.NoError(t, err)
	assert.Equal(t, head.Hash().String(), pinned.Digest)
	assert.Len(t, pinned.Files, 1)

	_, err = fetcher.Fetch(context.Background(), "file://"+repoDir+"?path=deploy&ref=0000000")
	assert.ErrorContains(t, err, "not a branch, tag or commit")
}

func TestGitFetcher_CloneFailure(t *testing.T) {
	fetcher := NewGitFetcher(NewDiskCache(t.TempDir()), GitAuth{}, false)
	missing := filepath.Join(t.TempDir(), "nothing-here")
	require.NoError(t, os.MkdirAll(missing, 0o755))

	_, err := fetcher.Fetch(context.Background(), "file://"+missing)
	assert.Error(t, err)
}
