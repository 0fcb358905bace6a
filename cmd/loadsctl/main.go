package main

import (
	"os"

	"github.com/loadsctl/loadsctl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
