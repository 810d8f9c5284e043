package cli

import (
	"github.com/spf13/pflag"
)

func addSourceFlags(fs *pflag.FlagSet, f *sourceFlags) {
	fs.StringArrayVarP(&f.Files, "filename", "f", nil,
		"manifest source: a file or directory, -, git::<url>?ref=<ref>&path=<dir>, or configmap://<namespace>/<name>; repeatable")
	fs.BoolVarP(&f.Recursive, "recursive", "R", false, "descend into subdirectories of directory sources")
	fs.StringVar(&f.CacheDir, "cache-dir", "", "directory for cached git sources; defaults to the user cache directory")
}

func addOutputFlag(fs *pflag.FlagSet, output *string) {
	fs.StringVarP(output, "output", "o", "table", "output format: table, json, yaml or name")
}
