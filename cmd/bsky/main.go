// Package main provides the entry point for the bsky CLI.
package main

import (
	"github.com/colthorp/bsky-cli-go/internal/cli"
)

func main() {
	cli.Execute()
}
