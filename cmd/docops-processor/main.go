package main

import (
	"os"

	"github.com/durable-streams/docops-processor/cmd/docops-processor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
