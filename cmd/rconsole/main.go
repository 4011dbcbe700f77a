// rconsole - remote console for Source RCON servers.
//
// rconsole authenticates against a game server's RCON port, runs commands
// one-shot or interactively, keeps a command history in SQLite, and can
// serve a REST API, scheduled commands and MQTT telemetry.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/energizer-project/rconsole/internal/cli"
)

// AppVersion is overridden at build time with -ldflags "-X main.AppVersion=...".
var AppVersion = "1.0.0"

func main() {
	if err := cli.NewRootCommand(AppVersion).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
