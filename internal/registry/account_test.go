package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// R1: accountToJSON ∘ getAccountFromJSON = identity on the significant
// fields.
func TestAccountJSONRoundTrip(t *testing.T) {
	a := &Account{
		ShortName:                   "work",
		IssuerURL:                   "https://idp.example.com/",
		ClientID:                    "cid",
		ClientSecret:                "csecret",
		Username:                    "alice",
		Password:                    "hunter2",
		RefreshToken:                "rt-123",
		CertPath:                    "/etc/ssl/ca.pem",
		RedirectURIs:                []string{"http://localhost:4242/"},
		Scope:                       "openid profile",
		DeviceAuthorizationEndpoint: "https://idp.example.com/device",
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var got Account
	require.NoError(t, json.Unmarshal(data, &got))

	require.Equal(t, a.IssuerURL, got.IssuerURL)
	require.Equal(t, a.ShortName, got.ShortName)
	require.Equal(t, a.ClientID, got.ClientID)
	require.Equal(t, a.ClientSecret, got.ClientSecret)
	require.Equal(t, a.Username, got.Username)
	require.Equal(t, a.Password, got.Password)
	require.Equal(t, a.RefreshToken, got.RefreshToken)
	require.Equal(t, a.CertPath, got.CertPath)
	require.Equal(t, a.RedirectURIs, got.RedirectURIs)
	require.Equal(t, a.Scope, got.Scope)
	require.Equal(t, a.DeviceAuthorizationEndpoint, got.DeviceAuthorizationEndpoint)
}

func TestAccountJSONAcceptsLegacyIssuerKey(t *testing.T) {
	var a Account
	err := json.Unmarshal([]byte(`{"name":"legacy","issuer":"https://old.example.com"}`), &a)
	require.NoError(t, err)
	require.Equal(t, "https://old.example.com/", a.IssuerURL)
}

func TestTokenValidFor(t *testing.T) {
	a := &Account{AccessToken: "tok", AccessTokenExpiresAt: 1000}
	require.True(t, a.TokenValidFor(900, 60))
	require.False(t, a.TokenValidFor(950, 60))

	empty := &Account{}
	require.False(t, empty.TokenValidFor(0, 0))
}
