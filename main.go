// Command devlens is the single binary behind the DevLens deployment: the
// HTTP API server, the analysis pipeline worker and the schema migrator,
// selected by subcommand.
package main

import (
	"os"

	"github.com/devlens/devlens/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
