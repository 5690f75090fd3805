package main

import (
	"os"

	"github.com/xv6fs/xv6fs/cmd/xv6fs/commands"

	// Registers the Prometheus metrics constructors via init().
	_ "github.com/xv6fs/xv6fs/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		commands.PrintErr("%v", err)
		os.Exit(1)
	}
}
