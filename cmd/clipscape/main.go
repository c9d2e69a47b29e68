// Package main is the single-binary entrypoint for ClipScape.
package main

import "github.com/clipscape-network/clipscape/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
