// p2pboard: text clipboard sync through a WebSocket relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "p2pboard",
		Short: "Text clipboard sync through a WebSocket relay",
		Long: `p2pboard keeps the text clipboard of several machines in sync.

Run "p2pboard server" on one reachable host and "p2pboard client" on every
machine that should share its clipboard. Anything copied on one machine is
pasted into the clipboard of all the others.

Config file search order (first found wins):
  /etc/p2pboard/p2pboard.toml
  $HOME/.config/p2pboard/p2pboard.toml
  path supplied via --config

All flags can be set via P2PBOARD_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newCopyCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "p2pboard %s\n", Version)
		},
	}
}
