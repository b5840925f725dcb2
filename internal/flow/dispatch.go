package flow

import (
	"context"
	"time"

	"github.com/vingar/oidc-agent/internal/agenterr"
	"github.com/vingar/oidc-agent/internal/registry"
)

// GetAccessToken implements the user-visible token dispatch contract of
// spec.md §4.4.8: return a cached token if still valid, else try
// refresh, else fall back to the password flow when credentials are
// present, else surface the upstream IdP error.
func (e *Engine) GetAccessToken(ctx context.Context, account *registry.Account, minValidPeriod int64, scope string) (string, error) {
	now := time.Now().Unix()

	if scope == "" && account.TokenValidFor(now, minValidPeriod) {
		return account.AccessToken, nil
	}

	if account.RefreshToken != "" {
		tok, err := e.Refresh(ctx, account, scope)
		if err == nil {
			return tok, nil
		}
		if scope != "" {
			return "", err
		}
		if account.Username == "" || account.Password == "" {
			return "", err
		}
		// fall through to password flow below
	} else if scope != "" {
		return "", agenterr.New(agenterr.CodeMissingCredentials, "account has no refresh token to request a scoped-down access token")
	}

	if account.Username != "" && account.Password != "" && scope == "" {
		if err := e.PasswordFlow(ctx, account); err != nil {
			return "", err
		}
		return account.AccessToken, nil
	}

	return "", agenterr.New(agenterr.CodeMissingCredentials, "no refresh token or username/password available for this account")
}
