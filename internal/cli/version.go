package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cli.Version=..."
var Version = ""

type versionOpts struct{}

func newVersion() *versionOpts {
	return &versionOpts{}
}

func (opts *versionOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output the version of kapply",
		RunE:  opts.RunE,
	}
}

func (opts *versionOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	fmt.Fprintln(cmd.OutOrStdout(), versionString())
	return nil
}

func versionString() string {
	if Version == "" {
		return "unversioned"
	}
	return Version
}
