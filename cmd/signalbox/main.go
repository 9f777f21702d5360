// Command signalbox runs the demo app, its scenarios, and journal tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/signalbox/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
