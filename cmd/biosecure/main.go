package main

import (
	"os"

	"github.com/absfs/biosecure/cmd/biosecure/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
