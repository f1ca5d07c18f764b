package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time, e.g.
// go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "privacyctl %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}
