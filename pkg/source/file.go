package source

import (
	"context"
	"fmt"
	"io"

	"github.com/chazu/kapply/pkg/manifest"
)

// FileFetcher reads manifests from a local file or directory
type FileFetcher struct {
	recursive bool
}

// NewFileFetcher creates a file fetcher
func NewFileFetcher(recursive bool) *FileFetcher {
	return &FileFetcher{recursive: recursive}
}

// Type returns the fetcher type
func (f *FileFetcher) Type() string { return "file" }

// Fetch reads the file at ref, or the manifest files beneath it
func (f *FileFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	files, err := manifest.CollectFiles(ref, f.recursive)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files found in %s", ref)
	}
	return &FetchResult{
		Files:  files,
		Digest: contentDigest(files),
		Source: ref,
	}, nil
}

// StdinName is the file name given to manifests read from stdin
const StdinName = "<stdin>"

// StdinFetcher reads a manifest stream from a reader, normally os.Stdin.
// The stream is read once.
type StdinFetcher struct {
	r io.Reader
}

// NewStdinFetcher creates a fetcher reading r
func NewStdinFetcher(r io.Reader) *StdinFetcher {
	return &StdinFetcher{r: r}
}

// Type returns the fetcher type
func (f *StdinFetcher) Type() string { return "stdin" }

// Fetch reads the whole stream. The data is treated as YAML or JSON.
func (f *StdinFetcher) Fetch(ctx context.Context, _ string) (*FetchResult, error) {
	data, err := io.ReadAll(f.r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	files := []manifest.File{{Path: StdinName, Data: data}}
	return &FetchResult{
		Files:  files,
		Digest: contentDigest(files),
		Source: StdinName,
	}, nil
}
