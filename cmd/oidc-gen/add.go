package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vingar/oidc-agent/internal/agentcli"
)

type addOptions struct {
	issuer       string
	clientID     string
	clientSecret string
	scope        string
	redirectURIs []string
	waitTimeout  time.Duration
	pollEvery    time.Duration
}

func commandAdd() *cobra.Command {
	opts := addOptions{waitTimeout: 5 * time.Minute, pollEvery: 2 * time.Second}

	cmd := &cobra.Command{
		Use:   "add <short-name>",
		Short: "Register and authorize a new account via the Authorization Code flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runAdd(args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.issuer, "issuer", "", "issuer URL (required)")
	flags.StringVar(&opts.clientID, "client-id", "", "client ID, if already registered manually")
	flags.StringVar(&opts.clientSecret, "client-secret", "", "client secret, if already registered manually")
	flags.StringVar(&opts.scope, "scope", "openid", "space-delimited requested scopes, or \"max\"")
	flags.StringSliceVar(&opts.redirectURIs, "redirect-uri", []string{"http://localhost:4242/"}, "candidate loopback redirect URIs, in preference order")
	cmd.MarkFlagRequired("issuer")

	return cmd
}

func runAdd(shortName string, opts addOptions) error {
	c, err := client()
	if err != nil {
		return err
	}

	config, err := json.Marshal(map[string]interface{}{
		"name":          shortName,
		"issuer_url":    opts.issuer,
		"client_id":     opts.clientID,
		"client_secret": opts.clientSecret,
		"scope":         opts.scope,
		"redirect_uris": opts.redirectURIs,
	})
	if err != nil {
		return err
	}

	resp, err := c.Call(map[string]interface{}{"request": "gen", "config": json.RawMessage(config)})
	if err != nil {
		return fmt.Errorf("oidc-gen: %w", err)
	}
	if resp.URI == "" {
		return fmt.Errorf("oidc-gen: daemon did not return an authorization URL")
	}

	fmt.Printf("Open the following URL in your browser to authorize %q:\n\n  %s\n\n", shortName, resp.URI)
	fmt.Println("Waiting for the authorization to complete...")

	return waitForExchange(c, shortName, resp.State, opts.waitTimeout, opts.pollEvery)
}

// waitForExchange polls state_lookup until the daemon reports the state
// is no longer outstanding, which happens once the loopback listener has
// exchanged the code (success or failure) and unbound it. It then
// confirms success with an access_token call.
func waitForExchange(c *agentcli.Client, shortName, state string, timeout, every time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, err := c.Call(map[string]string{"request": "state_lookup", "state": state})
		if err != nil {
			break
		}
		time.Sleep(every)
	}

	if _, err := c.Call(map[string]interface{}{"request": "access_token", "account": shortName, "min_valid_period": 0}); err != nil {
		return fmt.Errorf("oidc-gen: authorization did not complete: %w", err)
	}
	fmt.Println("Authorization complete.")
	return nil
}
