package main

import (
	"os"

	"github.com/jgalley/cpapsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
