package main

import (
	"os"

	"github.com/hupe1980/dealmesh/cmd/dealmesh/cmd"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.SetVersion(version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
