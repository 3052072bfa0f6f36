// Package main is the single-binary entrypoint for Fieldwise.
package main

import "github.com/fieldwise/fieldwise/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
