package main

import (
	"os"

	"github.com/psantana5/ffqueue/cmd/ffqueue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
