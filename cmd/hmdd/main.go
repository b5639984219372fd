package main

import (
	"os"

	"github.com/fgc/hmdd/cmd/hmdd/cmds"
	"github.com/fgc/hmdd/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.HmddVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
