// Package registry holds the in-memory set of loaded account records,
// keyed by short name and, secondarily, by outstanding authorization
// state, enforcing the uniqueness and lifecycle invariants I1-I6.
package registry

import (
	"encoding/json"
	"strings"
)

// IssuerEndpoints is the discovered tuple of IdP endpoints. Every field
// is independently optional except Token, which becomes mandatory once
// Discover has succeeded (see SPEC_FULL.md §9 OQ2).
type IssuerEndpoints struct {
	Configuration       string `json:"configuration_endpoint,omitempty"`
	Token               string `json:"token_endpoint,omitempty"`
	Authorization       string `json:"authorization_endpoint,omitempty"`
	Registration        string `json:"registration_endpoint,omitempty"`
	Revocation          string `json:"revocation_endpoint,omitempty"`
	DeviceAuthorization string `json:"device_authorization_endpoint,omitempty"`
}

// Account is the full account record described by spec.md §3.
type Account struct {
	ShortName string `json:"name"`
	IssuerURL string `json:"issuer_url"`

	Endpoints IssuerEndpoints `json:"-"`
	// DeviceAuthorizationEndpoint is carried at the top level, mirroring
	// original_source/src/account.c which populates this single field
	// ahead of full discovery.
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`

	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	RedirectURIs []string `json:"redirect_uris"`

	Scope           string `json:"scope"`
	ScopesSupported string `json:"scopes_supported,omitempty"`

	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	RefreshToken string `json:"refresh_token,omitempty"`

	AccessToken          string `json:"-"`
	AccessTokenExpiresAt int64  `json:"-"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	CertPath string `json:"cert_path,omitempty"`

	UsedState string `json:"-"`
}

// accountWire is the JSON-on-the-wire shape, which additionally accepts
// the legacy "issuer" key as a fallback for "issuer_url" on decode (see
// original_source/src/account.c's getAccountFromJSON, which tries
// issuer_url first and falls back to issuer).
type accountWire struct {
	Name                        string   `json:"name"`
	IssuerURL                   string   `json:"issuer_url,omitempty"`
	Issuer                      string   `json:"issuer,omitempty"`
	DeviceAuthorizationEndpoint string   `json:"device_authorization_endpoint,omitempty"`
	ClientID                    string   `json:"client_id"`
	ClientSecret                string   `json:"client_secret"`
	Username                    string   `json:"username,omitempty"`
	Password                    string   `json:"password,omitempty"`
	RefreshToken                string   `json:"refresh_token,omitempty"`
	CertPath                    string   `json:"cert_path,omitempty"`
	RedirectURIs                []string `json:"redirect_uris,omitempty"`
	Scope                       string   `json:"scope,omitempty"`
}

// MarshalJSON emits accountToJSON-equivalent output: issuer_url always,
// never the legacy issuer key.
func (a *Account) MarshalJSON() ([]byte, error) {
	w := accountWire{
		Name:                        a.ShortName,
		IssuerURL:                   a.IssuerURL,
		DeviceAuthorizationEndpoint: a.DeviceAuthorizationEndpoint,
		ClientID:                    a.ClientID,
		ClientSecret:                a.ClientSecret,
		Username:                    a.Username,
		Password:                    a.Password,
		RefreshToken:                a.RefreshToken,
		CertPath:                    a.CertPath,
		RedirectURIs:                a.RedirectURIs,
		Scope:                       a.Scope,
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts either issuer_url or the legacy issuer key.
func (a *Account) UnmarshalJSON(data []byte) error {
	var w accountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Account{
		ShortName:                   w.Name,
		IssuerURL:                   w.IssuerURL,
		DeviceAuthorizationEndpoint: w.DeviceAuthorizationEndpoint,
		ClientID:                    w.ClientID,
		ClientSecret:                w.ClientSecret,
		Username:                    w.Username,
		Password:                    w.Password,
		RefreshToken:                w.RefreshToken,
		CertPath:                    w.CertPath,
		RedirectURIs:                w.RedirectURIs,
		Scope:                       w.Scope,
	}
	if a.IssuerURL == "" {
		a.IssuerURL = w.Issuer
	}
	a.normalizeIssuerURL()
	if a.DeviceAuthorizationEndpoint != "" {
		a.Endpoints.DeviceAuthorization = a.DeviceAuthorizationEndpoint
	}
	return nil
}

func (a *Account) normalizeIssuerURL() {
	if a.IssuerURL != "" && !strings.HasSuffix(a.IssuerURL, "/") {
		a.IssuerURL += "/"
	}
}

// Clear zeroes every secret field held by the account, per spec.md §5's
// "secrets are zeroed on release" policy.
func (a *Account) Clear() {
	a.ClientSecret = ""
	a.RefreshToken = ""
	a.AccessToken = ""
	a.Username = ""
	a.Password = ""
	a.UsedState = ""
}

// TokenValidFor reports whether the cached access token is valid for at
// least minValidPeriod seconds from now.
func (a *Account) TokenValidFor(now int64, minValidPeriod int64) bool {
	if a.AccessToken == "" {
		return false
	}
	return a.AccessTokenExpiresAt-now >= minValidPeriod
}
