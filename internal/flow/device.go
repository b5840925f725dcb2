package flow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/vingar/oidc-agent/internal/agenterr"
	"github.com/vingar/oidc-agent/internal/registry"
)

// DeviceInit is the result of spec.md §4.4.4's init_device.
type DeviceInit struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                int64
	ExpiresIn               int64
}

// InitDevice implements spec.md §4.4.4, first phase. golang.org/x/oauth2
// has native support for RFC 8628 device authorization; its
// DeviceAuthResponse shape already matches what spec.md's contract
// asks for, so it's used directly rather than hand-rolled like the
// other token-endpoint calls.
func (e *Engine) InitDevice(ctx context.Context, account *registry.Account) (*DeviceInit, error) {
	if account.Endpoints.DeviceAuthorization == "" {
		return nil, agenterr.New(agenterr.CodeNoDeviceEndpoint, "this issuer does not support the device authorization grant")
	}

	cfg := e.deviceConfig(account)
	ctx = e.withClient(ctx, account)
	resp, err := cfg.DeviceAuth(ctx, oauth2.SetAuthURLParam("scope", usableScope(account.IssuerURL, account.Scope, account.ScopesSupported)))
	if err != nil {
		return nil, agenterr.Newf(agenterr.CodeIdPError, "device authorization request failed: %v", err)
	}

	return &DeviceInit{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                resp.Interval,
		ExpiresIn:               int64(time.Until(resp.Expiry).Seconds()),
	}, nil
}

// DevicePollStatus reports the outcome of one device-flow poll.
type DevicePollStatus int

const (
	DevicePending DevicePollStatus = iota
	DeviceSlowDown
	DeviceSuccess
	DeviceError
)

// PollDevice implements spec.md §4.4.4, second phase. The engine never
// sleeps: it reports Pending/SlowDown once per call and leaves polling
// cadence (respecting Interval) to the caller.
func (e *Engine) PollDevice(ctx context.Context, account *registry.Account, deviceCode string) (DevicePollStatus, string, error) {
	cfg := e.deviceConfig(account)
	ctx = e.withClient(ctx, account)

	da := &oauth2.DeviceAuthResponse{DeviceCode: deviceCode}
	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err == nil {
		account.AccessToken = tok.AccessToken
		if !tok.Expiry.IsZero() {
			account.AccessTokenExpiresAt = tok.Expiry.Unix()
		}
		if tok.RefreshToken != "" {
			account.RefreshToken = tok.RefreshToken
		}
		return DeviceSuccess, "", nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "authorization_pending":
			return DevicePending, retrieveErr.ErrorCode, nil
		case "slow_down":
			return DeviceSlowDown, retrieveErr.ErrorCode, nil
		default:
			return DeviceError, retrieveErr.ErrorCode, agenterr.New(agenterr.CodeIdPError, retrieveErr.ErrorDescription)
		}
	}
	return DeviceError, "", agenterr.Newf(agenterr.CodeIdPError, "device poll failed: %v", err)
}

func (e *Engine) deviceConfig(account *registry.Account) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:      account.Endpoints.Token,
			DeviceAuthURL: account.Endpoints.DeviceAuthorization,
		},
	}
}
