// cmd/crucible/main.go
//
// This is the entry point for the Crucible CLI.
//
// `crucible serve` runs the coordinator and the HTTP bridge in the current
// project directory. `crucible observe` attaches a read-only dashboard to a
// running bridge.

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A .env next to the project is a convenience, not a requirement.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "crucible",
		Short:         "Coordinate a pool of autonomous workers over a task graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newObserveCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crucible version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
