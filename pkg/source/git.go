package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/manifest"
)

// Environment variables read by GitAuthFromEnv
const (
	EnvGitToken         = "KAPPLY_GIT_TOKEN"
	EnvGitUsername      = "KAPPLY_GIT_USERNAME"
	EnvGitPassword      = "KAPPLY_GIT_PASSWORD"
	EnvGitSSHKey        = "KAPPLY_GIT_SSH_KEY"
	EnvGitSSHPassphrase = "KAPPLY_GIT_SSH_PASSPHRASE"
)

// GitAuth holds git credentials. The zero value clones anonymously.
type GitAuth struct {
	Token         string
	Username      string
	Password      string
	SSHKeyFile    string
	SSHPassphrase string
}

// GitAuthFromEnv reads credentials with getenv, normally os.Getenv
func GitAuthFromEnv(getenv func(string) string) GitAuth {
	return GitAuth{
		Token:         getenv(EnvGitToken),
		Username:      getenv(EnvGitUsername),
		Password:      getenv(EnvGitPassword),
		SSHKeyFile:    getenv(EnvGitSSHKey),
		SSHPassphrase: getenv(EnvGitSSHPassphrase),
	}
}

// method builds the go-git auth method. SSH keys win over tokens, tokens
// over username/password.
func (a GitAuth) method() (transport.AuthMethod, error) {
	switch {
	case a.SSHKeyFile != "":
		keys, err := ssh.NewPublicKeysFromFile("git", a.SSHKeyFile, a.SSHPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key %s: %w", a.SSHKeyFile, err)
		}
		return keys, nil
	case a.Token != "":
		return &http.BasicAuth{
			Username: "x-access-token", // Works for GitHub, GitLab
			Password: a.Token,
		}, nil
	case a.Username != "":
		return &http.BasicAuth{Username: a.Username, Password: a.Password}, nil
	default:
		return nil, nil
	}
}

// GitFetcher fetches manifests from git repositories
type GitFetcher struct {
	cache     *DiskCache
	auth      GitAuth
	recursive bool
	tempDir   string
}

// NewGitFetcher creates a new Git fetcher
func NewGitFetcher(cache *DiskCache, auth GitAuth, recursive bool) *GitFetcher {
	return &GitFetcher{
		cache:     cache,
		auth:      auth,
		recursive: recursive,
		tempDir:   os.TempDir(),
	}
}

// Type returns the fetcher type
func (f *GitFetcher) Type() string {
	return "git"
}

// GitRef contains parsed Git reference information
type GitRef struct {
	URL  string
	Ref  string // branch, tag, or commit SHA
	Path string // path within the repository
}

// isCommit reports whether the ref is a full commit SHA
func (r GitRef) isCommit() bool {
	return len(r.Ref) == 40 && isHex(r.Ref)
}

// mayBeCommit reports whether the ref could be an abbreviated commit SHA.
// Such refs are tried as a branch and a tag first.
func (r GitRef) mayBeCommit() bool {
	return len(r.Ref) >= 7 && len(r.Ref) <= 40 && isHex(r.Ref)
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

func (r GitRef) cacheKey(commit string) string {
	return fmt.Sprintf("git:%s:%s:%s", r.URL, commit, r.Path)
}

// Fetch clones the repository and reads the manifests under the ref's path.
// ref format: https://github.com/org/repo?ref=v1.0.0&path=deploy
func (f *GitFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	logger := log.FromContext(ctx).WithValues("ref", ref)

	gitRef, err := parseGitRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid Git reference: %w", err)
	}

	// A full commit SHA names immutable content
	if gitRef.isCommit() {
		if result, ok := f.cached(gitRef, gitRef.Ref); ok {
			logger.V(1).Info("Using cached git content", "commit", gitRef.Ref)
			return result, nil
		}
	}

	auth, err := f.auth.method()
	if err != nil {
		return nil, fmt.Errorf("failed to get Git auth: %w", err)
	}

	tmpDir, err := os.MkdirTemp(f.tempDir, "kapply-git-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	repoDir, repo, err := f.clone(ctx, tmpDir, gitRef, auth)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit := head.Hash().String()

	if result, ok := f.cached(gitRef, commit); ok {
		return result, nil
	}

	root := repoDir
	if gitRef.Path != "" {
		root = filepath.Join(repoDir, filepath.FromSlash(gitRef.Path))
	}
	files, err := manifest.CollectFiles(root, f.recursive)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifests: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files found at %s", gitRef.Path)
	}

	source := fmt.Sprintf("git::%s@%s", gitRef.URL, commit[:7])
	for i := range files {
		rel, err := filepath.Rel(repoDir, files[i].Path)
		if err != nil {
			return nil, err
		}
		files[i].Path = source + "/" + filepath.ToSlash(rel)
	}

	if data, err := json.Marshal(files); err == nil {
		if err := f.cache.Set(gitRef.cacheKey(commit), data); err != nil {
			logger.Error(err, "Failed to cache git content")
		}
	}

	return &FetchResult{
		Files:  files,
		Digest: commit,
		Source: source,
	}, nil
}

// clone checks out gitRef into a fresh directory under tmpDir. A named ref
// is tried as a branch, then as a tag, then as an abbreviated commit.
func (f *GitFetcher) clone(ctx context.Context, tmpDir string, gitRef *GitRef, auth transport.AuthMethod) (string, *git.Repository, error) {
	cloneOpts := git.CloneOptions{
		URL:      gitRef.URL,
		Auth:     auth,
		Depth:    1, // Shallow clone for speed
		Progress: io.Discard,
	}

	if gitRef.Ref == "" {
		dir := filepath.Join(tmpDir, "head")
		repo, err := git.PlainCloneContext(ctx, dir, false, &cloneOpts)
		if err != nil {
			return "", nil, fmt.Errorf("failed to clone repository: %w", err)
		}
		return dir, repo, nil
	}

	var err error
	if !gitRef.isCommit() {
		for _, name := range []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(gitRef.Ref),
			plumbing.NewTagReferenceName(gitRef.Ref),
		} {
			opts := cloneOpts
			opts.ReferenceName = name
			opts.SingleBranch = true
			dir := filepath.Join(tmpDir, strings.ReplaceAll(name.String(), "/", "-"))

			var repo *git.Repository
			if repo, err = git.PlainCloneContext(ctx, dir, false, &opts); err == nil {
				return dir, repo, nil
			}
		}
		if !gitRef.mayBeCommit() {
			return "", nil, fmt.Errorf("failed to clone repository: %w", err)
		}
	}

	// Full clone needed for specific commit
	opts := cloneOpts
	opts.Depth = 0
	dir := filepath.Join(tmpDir, "commit")
	repo, cloneErr := git.PlainCloneContext(ctx, dir, false, &opts)
	if cloneErr != nil {
		return "", nil, fmt.Errorf("failed to clone repository: %w", cloneErr)
	}

	hash, resolveErr := repo.ResolveRevision(plumbing.Revision(gitRef.Ref))
	if resolveErr != nil {
		if err != nil {
			return "", nil, fmt.Errorf("ref %s is not a branch, tag or commit: %w", gitRef.Ref, err)
		}
		return "", nil, fmt.Errorf("failed to resolve revision %s: %w", gitRef.Ref, resolveErr)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return "", nil, fmt.Errorf("failed to checkout commit: %w", err)
	}

	return dir, repo, nil
}

func (f *GitFetcher) cached(gitRef *GitRef, commit string) (*FetchResult, bool) {
	data, err := f.cache.Get(gitRef.cacheKey(commit))
	if err != nil {
		return nil, false
	}
	var files []manifest.File
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, false
	}
	return &FetchResult{
		Files:  files,
		Digest: commit,
		Source: fmt.Sprintf("git::%s@%s (cached)", gitRef.URL, commit[:7]),
	}, true
}

// parseGitRef splits "url?ref=...&path=..." into its parts. The URL may be
// scp-like (git@host:org/repo.git), so only the query is parsed.
func parseGitRef(ref string) (*GitRef, error) {
	rawURL, rawQuery, _ := strings.Cut(ref, "?")
	if rawURL == "" {
		return nil, fmt.Errorf("missing repository URL")
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	path := strings.Trim(query.Get("path"), "/")
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("path %q must stay inside the repository", path)
	}

	cleanURL := rawURL
	if (strings.HasPrefix(cleanURL, "https://") || strings.HasPrefix(cleanURL, "http://")) && !strings.HasSuffix(cleanURL, ".git") {
		cleanURL += ".git"
	}

	return &GitRef{
		URL:  cleanURL,
		Ref:  query.Get("ref"),
		Path: path,
	}, nil
}
