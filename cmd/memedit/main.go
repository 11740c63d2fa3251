package main

import (
	"os"

	"github.com/memedit/memedit/cmd/memedit/cmds"
	"github.com/memedit/memedit/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.MemeditVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
