// Command crmorbit is the offline-first CRM node: a local event log, a
// peer sync server and the tools to inspect, back up and verify it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/crmorbit/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
