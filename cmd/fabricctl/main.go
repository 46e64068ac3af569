// Command fabricctl drives a handful of canned scenarios against an
// in-process fabric (single Router, one or more Managers sharing it) so a
// reader can watch actors, locks, and gossip interact without standing up
// a real cluster.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fabricctl",
		Short: "Drive canned scenarios against an in-process reactive fabric",
	}

	root.AddCommand(newScenarioCmd())
	root.AddCommand(newClockCheckCmd())
	root.AddCommand(newReportCmd())
	return root
}
