package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of weakref.",
	Run: func(cmd *cobra.Command, _ []string) {
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}

		fmt.Fprintf(cmd.OutOrStdout(), "weakref %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
