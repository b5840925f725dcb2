// Command oidc-gen drives interactive account-configuration creation
// against a running oidc-agentd: Dynamic Client Registration and the
// Authorization Code / device flows, all over the daemon's IPC socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vingar/oidc-agent/internal/agentcli"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:           "oidc-gen",
		Short:         "Generate and manage OIDC account configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", os.Getenv("OIDC_SOCK"), "path to the oidc-agentd IPC socket (defaults to $OIDC_SOCK)")

	root.AddCommand(commandAdd())
	root.AddCommand(commandDevice())
	root.AddCommand(commandList())
	root.AddCommand(commandRemove())
	root.AddCommand(commandDelete())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() (*agentcli.Client, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("oidc-gen: no socket path given; pass --socket or set $OIDC_SOCK (is oidc-agentd running?)")
	}
	return agentcli.New(socketPath), nil
}
