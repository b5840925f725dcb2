package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func commandList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the accounts currently loaded in the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c, err := client()
			if err != nil {
				return err
			}
			resp, err := c.Call(map[string]string{"request": "account_list"})
			if err != nil {
				return fmt.Errorf("oidc-gen: %w", err)
			}
			if resp.Status == "NotFound" {
				fmt.Println("No accounts are currently loaded.")
				return nil
			}
			for _, name := range resp.AccountList {
				fmt.Println(name)
			}
			return nil
		},
	}
}
