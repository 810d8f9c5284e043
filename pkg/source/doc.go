// Package source fetches manifest files from local paths, stdin, git
// repositories and ConfigMaps. A Registry picks the fetcher from the
// reference syntax.
package source
