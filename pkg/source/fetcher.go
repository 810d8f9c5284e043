package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/manifest"
)

// FetchResult contains the manifest files of one source reference
type FetchResult struct {
	// Files are the fetched manifest files in a stable order
	Files []manifest.File

	// Digest identifies the content: an OCI style sha256 digest for
	// local sources, the commit SHA for git
	Digest string

	// Source describes where the files came from
	Source string
}

// Fetcher fetches manifest files for one kind of reference
type Fetcher interface {
	// Fetch retrieves the files for ref, already stripped of its scheme
	Fetch(ctx context.Context, ref string) (*FetchResult, error)

	// Type returns the fetcher type (for logging and metrics)
	Type() string
}

const (
	gitPrefix       = "git::"
	configMapPrefix = "configmap://"
	filePrefix      = "file://"
	stdinRef        = "-"
)

// Options configures NewRegistry
type Options struct {
	// Client is used by configmap:// references; may be nil
	Client client.Client

	// Namespace is used for configmap:// references without one
	Namespace string

	// CacheDir holds cloned git content; empty uses DefaultCacheDir
	CacheDir string

	// Recursive descends into subdirectories of local and git paths
	Recursive bool

	// Stdin is read for "-"; nil uses os.Stdin
	Stdin io.Reader

	// GitAuth authenticates git clones
	GitAuth GitAuth
}

// Registry manages all available fetchers
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates a registry with the file, stdin, git and configmap
// fetchers.
func NewRegistry(opts Options) *Registry {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	r := &Registry{fetchers: make(map[string]Fetcher)}
	r.Register(NewFileFetcher(opts.Recursive))
	r.Register(NewStdinFetcher(stdin))
	r.Register(NewGitFetcher(NewDiskCache(opts.CacheDir), opts.GitAuth, opts.Recursive))
	r.Register(NewConfigMapFetcher(opts.Client, opts.Namespace))
	return r
}

// Register adds or replaces the fetcher for f.Type()
func (r *Registry) Register(f Fetcher) {
	r.fetchers[f.Type()] = f
}

// Resolve returns the fetcher for ref and the reference it should be given
func (r *Registry) Resolve(ref string) (Fetcher, string, error) {
	var kind, rest string
	switch {
	case ref == "":
		return nil, "", fmt.Errorf("empty source reference")
	case ref == stdinRef:
		kind, rest = "stdin", ref
	case strings.HasPrefix(ref, gitPrefix):
		kind, rest = "git", strings.TrimPrefix(ref, gitPrefix)
	case strings.HasPrefix(ref, configMapPrefix):
		kind, rest = "configmap", strings.TrimPrefix(ref, configMapPrefix)
	case strings.HasPrefix(ref, filePrefix):
		kind, rest = "file", strings.TrimPrefix(ref, filePrefix)
	default:
		kind, rest = "file", ref
	}

	f, ok := r.fetchers[kind]
	if !ok {
		return nil, "", fmt.Errorf("unsupported source type: %s", kind)
	}
	return f, rest, nil
}

// Fetch fetches ref using the matching fetcher
func (r *Registry) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	f, rest, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := f.Fetch(ctx, rest)
	recordFetch(f.Type(), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}

	log.FromContext(ctx).V(1).Info("Fetched source", "source", result.Source, "digest", result.Digest, "files", len(result.Files))
	return result, nil
}

// FetchAll fetches every reference in order
func (r *Registry) FetchAll(ctx context.Context, refs []string) ([]*FetchResult, error) {
	results := make([]*FetchResult, 0, len(refs))
	for _, ref := range refs {
		result, err := r.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// contentDigest digests the paths and contents of files
func contentDigest(files []manifest.File) string {
	d := digest.Canonical.Digester()
	for _, f := range files {
		fmt.Fprintf(d.Hash(), "%s\x00%d\x00", f.Path, len(f.Data))
		d.Hash().Write(f.Data)
	}
	return d.Digest().String()
}
