package main

import (
	"os"

	"github.com/gkobilansky/riff/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
