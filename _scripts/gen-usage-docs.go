//go:build ignore

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra/doc"

	"github.com/fgc/hmdd/cmd/hmdd/cmds"
)

const defaultUsageDir = "./Documentation/usage"

func main() {
	usageDir := defaultUsageDir
	if len(os.Args) > 1 {
		usageDir = os.Args[1]
	}
	if err := os.MkdirAll(usageDir, 0o755); err != nil {
		log.Fatal(err)
	}
	if err := doc.GenMarkdownTree(cmds.New(true), usageDir); err != nil {
		log.Fatal(err)
	}
	// GenMarkdownTree ignores additional help topic commands
	for _, subcmd := range cmds.New(true).Commands() {
		if err := doc.GenMarkdownTree(subcmd, usageDir); err != nil {
			log.Fatal(err)
		}
	}
}
