// Command conduitd runs the conversational AI orchestration server: the
// Connection Manager's WebSocket endpoint and REST surface, backed by
// the Staged Module Resolution Pipeline and the Postgres/CockroachDB or
// in-memory State Store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "conduitd",
		Short:         "Conversational AI orchestration server",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(buildServeCmd(), buildSessionsCmd())
	return cmd
}

func defaultConfigPath() string {
	if v := os.Getenv("CONDUIT_CONFIG"); v != "" {
		return v
	}
	return "conduit.yaml"
}
