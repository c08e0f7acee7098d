package main

import (
	"os"

	"github.com/yourorg/agent-bank/cmd/keeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
