package main

import (
	"fmt"
	"os"

	"feedline/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "feedctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
