package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func commandRemove() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <short-name>",
		Short: "Unload an account from the agent without deleting its stored configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c, err := client()
			if err != nil {
				return err
			}
			if _, err := c.Call(map[string]string{"request": "remove", "account": args[0]}); err != nil {
				return fmt.Errorf("oidc-gen: %w", err)
			}
			fmt.Printf("%s unloaded.\n", args[0])
			return nil
		},
	}
}

func commandDelete() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <short-name>",
		Short: "Permanently delete an account's stored configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c, err := client()
			if err != nil {
				return err
			}
			if _, err := c.Call(map[string]string{"request": "delete", "account": args[0]}); err != nil {
				return fmt.Errorf("oidc-gen: %w", err)
			}
			fmt.Printf("%s deleted.\n", args[0])
			return nil
		},
	}
}
