// Command oidc-agentd is the long-lived credential agent daemon: it
// loads OIDC account configurations, mints access tokens for local
// client programs, and drives the flows needed to obtain or refresh
// them, all over a per-user UNIX-domain socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "oidc-agentd",
		Short:         "OIDC credential agent daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(commandServe())
	root.AddCommand(commandVersion())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
