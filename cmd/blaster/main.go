// Package main is the standalone blaster command-line client entrypoint.
package main

import blastercli "github.com/droned/droned/internal/cli/blaster"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	blastercli.Execute(version)
}
