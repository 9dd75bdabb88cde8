// Package main is the standalone gremlin introspection client entrypoint.
package main

import gremlincli "github.com/droned/droned/internal/cli/gremlin"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	gremlincli.Execute(version)
}
