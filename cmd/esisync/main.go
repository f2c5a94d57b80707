// Package main provides the entry point for the esisync CLI.
package main

import (
	"os"

	"github.com/raphaelgruber/esisync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
