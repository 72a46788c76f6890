package main

import (
	"fmt"
	"os"

	"github.com/0x4n6nerd/rtrtriage/cmd/rtrtriage/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
