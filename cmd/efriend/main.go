package main

import (
	"fmt"
	"os"

	"efriend-trader/internal/cli"
	"efriend-trader/internal/logging"
)

func main() {
	// Config is loaded from --config by the root command.
	root := cli.NewRootCmd(nil, logging.NewLogger())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
