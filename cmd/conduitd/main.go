// Command conduitd runs the Conduit daemon: it spawns and supervises agent
// CLI subprocesses, bridges the NDJSON protocol they speak over a
// per-session WebSocket,
// enforces permission rules, and exposes sessions to external consumers
// over WebSocket, SSE, and Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "conduitd",
		Short: "conduitd orchestrates long-lived coding-agent CLI sessions",
		Long: `conduitd is the Conduit daemon.

It spawns agent CLI subprocesses in SDK/stream-json mode, gives each one a
per-session WebSocket bridge that the agent connects back to, evaluates tool-use
permission requests against a rule engine, tracks cost and token usage
per turn, and fans session events out over an external WebSocket and SSE
front door.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "/etc/conduitd/config.yaml", "path to the daemon config file")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newRulesCommand(),
		newVersionCommand(),
	)
	return root
}

// version is set at release time via -ldflags; it is a plain var, not a
// build-info lookup, because conduitd has no module-version API to query.
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print conduitd's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("conduitd " + version)
			return nil
		},
	}
}
