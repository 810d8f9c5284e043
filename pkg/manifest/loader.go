package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var manifestExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".cue":  true,
}

// IsManifestFile reports whether path has an extension the loader reads.
func IsManifestFile(path string) bool {
	return manifestExtensions[strings.ToLower(filepath.Ext(path))]
}

// Loader reads manifests from files and directories.
type Loader struct {
	// Recursive descends into subdirectories; otherwise only the top level
	// of a directory argument is read.
	Recursive bool
}

// Load reads every path in order. A file argument is read whatever its
// extension; directories contribute their manifest files in lexical order.
func (l *Loader) Load(paths ...string) ([]Descriptor, error) {
	var files []File
	for _, p := range paths {
		found, err := CollectFiles(p, l.Recursive)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return ParseFiles(files)
}

// CollectFiles reads root, or the manifest files beneath it when root is a
// directory. Hidden directories such as .git are skipped.
func CollectFiles(root string, recursive bool) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(root)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", root, err)
		}
		return []File{{Path: root, Data: data}}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsManifestFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, File{Path: p, Data: data})
	}
	return files, nil
}
