// Package flow implements the OIDC flow engine: discovery, refresh,
// resource-owner password, authorization-code and device-authorization
// grants, dynamic client registration, and revocation.
package flow

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"

	"github.com/vingar/oidc-agent/internal/agenterr"
	"github.com/vingar/oidc-agent/internal/registry"
)

// defaultGrantTypes mirrors original_source/src/oidc.c's getIssuerConfig
// fallback when the discovery document omits grant_types_supported.
var defaultGrantTypes = []string{"authorization_code", "implicit"}

// defaultResponseTypes is the fallback for response_types_supported.
var defaultResponseTypes = []string{"code"}

// extraDiscovery carries the discovery-document fields that
// coreos/go-oidc's Provider doesn't expose directly through its typed
// API (see SPEC_FULL.md §9 OQ2: every field below is independently
// optional).
type extraDiscovery struct {
	RegistrationEndpoint        string   `json:"registration_endpoint"`
	RevocationEndpoint          string   `json:"revocation_endpoint"`
	DeviceAuthorizationEndpoint string   `json:"device_authorization_endpoint"`
	ScopesSupported             []string `json:"scopes_supported"`
	GrantTypesSupported         []string `json:"grant_types_supported"`
	ResponseTypesSupported      []string `json:"response_types_supported"`
}

// Engine bundles the dependencies every flow operation needs: an HTTP
// client (injected, per spec.md's "it consumes an HTTPS client"
// non-goal) and a logger.
type Engine struct {
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

// NewEngine returns an Engine with sane defaults.
func NewEngine(client *http.Client, log logrus.FieldLogger) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{HTTPClient: client, Log: log}
}

// withClient threads the per-account HTTP client (honoring CertPath,
// see httpClientFor) through context the way both coreos/go-oidc and
// golang.org/x/oauth2 expect to receive an overridden client.
func (e *Engine) withClient(ctx context.Context, account *registry.Account) context.Context {
	return oidc.ClientContext(ctx, e.httpClientFor(account))
}

// httpClientFor returns e.HTTPClient, or -- when the account carries a
// CertPath (spec.md §3's per-account CA override, R1) -- a derived
// client whose transport trusts that CA in addition to the system
// roots. A bad or unreadable CertPath falls back to e.HTTPClient rather
// than failing discovery outright.
func (e *Engine) httpClientFor(account *registry.Account) *http.Client {
	if account.CertPath == "" {
		return e.HTTPClient
	}

	pem, err := os.ReadFile(account.CertPath)
	if err != nil {
		e.Log.WithField("account", account.ShortName).WithError(err).Warn("failed to read cert_path; using the default trust store")
		return e.HTTPClient
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		e.Log.WithField("account", account.ShortName).Warn("cert_path does not contain a valid PEM certificate; using the default trust store")
		return e.HTTPClient
	}

	transport, ok := e.HTTPClient.Transport.(*http.Transport)
	if ok {
		transport = transport.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.TLSClientConfig = &tls.Config{RootCAs: pool}

	client := *e.HTTPClient
	client.Transport = transport
	return &client
}

// Discover populates account.Endpoints from the IdP's
// /.well-known/openid-configuration document.
func (e *Engine) Discover(ctx context.Context, account *registry.Account) error {
	ctx = e.withClient(ctx, account)
	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(account.IssuerURL, "/"))
	if err != nil {
		return agenterr.WithInfo(agenterr.CodeIdPError, err.Error(), "check your issuer")
	}

	account.Endpoints.Configuration = strings.TrimSuffix(account.IssuerURL, "/") + "/.well-known/openid-configuration"
	account.Endpoints.Token = provider.Endpoint().TokenURL
	account.Endpoints.Authorization = provider.Endpoint().AuthURL
	if account.Endpoints.Token == "" {
		return agenterr.WithInfo(agenterr.CodeIdPError, "discovery document is missing token_endpoint", "check your issuer")
	}

	var extra extraDiscovery
	if err := provider.Claims(&extra); err != nil {
		return fmt.Errorf("flow: parse discovery document: %w", err)
	}
	account.Endpoints.Registration = extra.RegistrationEndpoint
	account.Endpoints.Revocation = extra.RevocationEndpoint
	if extra.DeviceAuthorizationEndpoint != "" {
		account.Endpoints.DeviceAuthorization = extra.DeviceAuthorizationEndpoint
		account.DeviceAuthorizationEndpoint = extra.DeviceAuthorizationEndpoint
	}
	account.ScopesSupported = strings.Join(extra.ScopesSupported, " ")

	if len(extra.GrantTypesSupported) > 0 {
		account.GrantTypesSupported = extra.GrantTypesSupported
	} else {
		account.GrantTypesSupported = defaultGrantTypes
	}
	if len(extra.ResponseTypesSupported) > 0 {
		account.ResponseTypesSupported = extra.ResponseTypesSupported
	} else {
		account.ResponseTypesSupported = defaultResponseTypes
	}

	return nil
}

// rawDiscoveryDoc is used by tests standing up a fake IdP.
func rawDiscoveryDoc(issuer string, extra map[string]interface{}) []byte {
	doc := map[string]interface{}{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/auth",
		"token_endpoint":         issuer + "/token",
	}
	for k, v := range extra {
		doc[k] = v
	}
	b, _ := json.Marshal(doc)
	return b
}
