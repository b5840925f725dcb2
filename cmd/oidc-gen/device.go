package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type deviceOptions struct {
	issuer       string
	clientID     string
	clientSecret string
	scope        string
}

func commandDevice() *cobra.Command {
	opts := deviceOptions{}

	cmd := &cobra.Command{
		Use:   "device <short-name>",
		Short: "Register and authorize a new account via the device authorization grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runDevice(args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.issuer, "issuer", "", "issuer URL (required)")
	flags.StringVar(&opts.clientID, "client-id", "", "client ID, if already registered manually")
	flags.StringVar(&opts.clientSecret, "client-secret", "", "client secret, if already registered manually")
	flags.StringVar(&opts.scope, "scope", "openid", "space-delimited requested scopes, or \"max\"")
	cmd.MarkFlagRequired("issuer")

	return cmd
}

func runDevice(shortName string, opts deviceOptions) error {
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
	})
	if err != nil {
		return err
	}

	initResp, err := c.Call(map[string]interface{}{"request": "device", "config": json.RawMessage(config)})
	if err != nil {
		return fmt.Errorf("oidc-gen: %w", err)
	}

	var dw struct {
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		Interval                int64  `json:"interval"`
		ExpiresIn               int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(initResp.OIDCDevice, &dw); err != nil {
		return fmt.Errorf("oidc-gen: malformed device response: %w", err)
	}

	if dw.VerificationURIComplete != "" {
		fmt.Printf("Visit %s and confirm the code %s\n", dw.VerificationURIComplete, dw.UserCode)
	} else {
		fmt.Printf("Visit %s and enter the code %s\n", dw.VerificationURI, dw.UserCode)
	}

	interval := time.Duration(dw.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dw.ExpiresIn) * time.Second)

	oidcDevice := initResp.OIDCDevice
	for time.Now().Before(deadline) {
		time.Sleep(interval)
		pollResp, err := c.Call(map[string]interface{}{
			"request": "device", "config": json.RawMessage(config), "oidc_device": oidcDevice,
		})
		if err != nil {
			return fmt.Errorf("oidc-gen: device authorization failed: %w", err)
		}
		switch pollResp.Status {
		case "success":
			fmt.Println("Device authorized.")
			return nil
		case "accepted":
			if pollResp.Info == "slow_down" {
				interval += interval
			}
			continue
		}
	}
	return fmt.Errorf("oidc-gen: device code expired before authorization completed")
}
