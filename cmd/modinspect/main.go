package main

import (
	"os"

	"github.com/modinspect/modinspect/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
