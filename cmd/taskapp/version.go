package main

import (
	"github.com/spf13/cobra"

	taskapp "github.com/hyp3rd/go-taskapp"
)

// Set with -ldflags "-X main.version=...".
//
//nolint:gochecknoglobals
var (
	version = ""
	commit  = ""
	date    = ""
)

func versionString() string {
	return taskapp.ReadBuildInfo().WithStamp(version, commit, date).String()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(versionString())
		},
	}
}
