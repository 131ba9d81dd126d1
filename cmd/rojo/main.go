package main

import (
	"os"

	"github.com/UserGeneratedLLC/rojo-sub002/cmd/rojo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
