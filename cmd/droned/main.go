// Package main is the droned daemon entrypoint.
package main

import "github.com/droned/droned/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
