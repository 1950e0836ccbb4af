// Package main provides the Laketower CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/laketower/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
