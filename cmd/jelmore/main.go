package main

import (
	"os"

	"github.com/jelmore/jelmore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
