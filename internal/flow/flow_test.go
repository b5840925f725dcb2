package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vingar/oidc-agent/internal/registry"
)

func newTestEngine() *Engine {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return NewEngine(http.DefaultClient, log)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDiscoverPopulatesEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	var issuer string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(rawDiscoveryDoc(issuer, map[string]interface{}{
			"registration_endpoint":        issuer + "/register",
			"revocation_endpoint":          issuer + "/revoke",
			"device_authorization_endpoint": issuer + "/device",
			"scopes_supported":             []string{"openid", "profile", "offline_access"},
			"grant_types_supported":        []string{"authorization_code", "refresh_token"},
			"response_types_supported":     []string{"code"},
		}))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuer = srv.URL

	account := &registry.Account{IssuerURL: srv.URL + "/"}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	err := e.Discover(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/token", account.Endpoints.Token)
	require.Equal(t, srv.URL+"/auth", account.Endpoints.Authorization)
	require.Equal(t, srv.URL+"/register", account.Endpoints.Registration)
	require.Equal(t, srv.URL+"/revoke", account.Endpoints.Revocation)
	require.Equal(t, srv.URL+"/device", account.Endpoints.DeviceAuthorization)
	require.Equal(t, "openid profile offline_access", account.ScopesSupported)
	require.Equal(t, []string{"authorization_code", "refresh_token"}, account.GrantTypesSupported)
}

func tokenEndpointServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(handler))
}

// Scenario 2: refresh on stale cache issues one POST with
// grant_type=refresh_token and updates expires_at / access_token.
func TestRefreshUpdatesCache(t *testing.T) {
	var gotForm string
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form.Get("grant_type")
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "cid", user)
		require.Equal(t, "csecret", pass)
		require.Equal(t, "cid", r.Form.Get("client_id"))
		require.Equal(t, "csecret", r.Form.Get("client_secret"))
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "new-access", ExpiresIn: 3600})
	})
	defer srv.Close()

	account := &registry.Account{
		ClientID: "cid", ClientSecret: "csecret", RefreshToken: "rt",
		Endpoints: registry.IssuerEndpoints{Token: srv.URL},
	}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	tok, err := e.Refresh(context.Background(), account, "")
	require.NoError(t, err)
	require.Equal(t, "new-access", tok)
	require.Equal(t, "refresh_token", gotForm)
	require.Equal(t, "new-access", account.AccessToken)
	require.Greater(t, account.AccessTokenExpiresAt, int64(0))
}

// I6: a rotated refresh token replaces the in-memory value and is not
// silently ignored, but is never written back without explicit save
// (save is outside the flow engine's responsibility).
func TestRefreshRotatesRefreshToken(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "at", RefreshToken: "rotated-rt"})
	})
	defer srv.Close()

	account := &registry.Account{RefreshToken: "old-rt", Endpoints: registry.IssuerEndpoints{Token: srv.URL}}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	_, err := e.Refresh(context.Background(), account, "")
	require.NoError(t, err)
	require.Equal(t, "rotated-rt", account.RefreshToken)
}

// Caching rule: a scoped-down refresh is returned but not cached.
func TestRefreshWithScopeDoesNotCache(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "scoped-token", ExpiresIn: 60})
	})
	defer srv.Close()

	account := &registry.Account{
		AccessToken: "cached", AccessTokenExpiresAt: 999999999,
		RefreshToken: "rt", Endpoints: registry.IssuerEndpoints{Token: srv.URL},
	}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	tok, err := e.Refresh(context.Background(), account, "read")
	require.NoError(t, err)
	require.Equal(t, "scoped-token", tok)
	require.Equal(t, "cached", account.AccessToken)
	require.Equal(t, int64(999999999), account.AccessTokenExpiresAt)
}

// Scenario 3: password fallback after a refresh failure.
func TestGetAccessTokenFallsBackToPassword(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(tokenResponse{Error: "invalid_grant"})
		case "password":
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "pw-token", ExpiresIn: 3600})
		default:
			t.Fatalf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
	})
	defer srv.Close()

	account := &registry.Account{
		RefreshToken: "stale-rt", Username: "alice", Password: "hunter2",
		Endpoints: registry.IssuerEndpoints{Token: srv.URL},
	}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	tok, err := e.GetAccessToken(context.Background(), account, 60, "")
	require.NoError(t, err)
	require.Equal(t, "pw-token", tok)
}

// Scenario 1: cached hit, no outbound HTTPS call needed.
func TestGetAccessTokenCachedHit(t *testing.T) {
	account := &registry.Account{AccessToken: "cached", AccessTokenExpiresAt: time.Now().Unix() + 600}
	e := newTestEngine()
	e.HTTPClient = failingClient(t)

	tok, err := e.GetAccessToken(context.Background(), account, 60, "")
	require.NoError(t, err)
	require.Equal(t, "cached", tok)
}

func TestExchangeCodeStoresTokens(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		require.Equal(t, "abc", r.Form.Get("code"))
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "code-token", RefreshToken: "code-rt", ExpiresIn: 1200})
	})
	defer srv.Close()

	account := &registry.Account{Endpoints: registry.IssuerEndpoints{Token: srv.URL}}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	err := e.ExchangeCode(context.Background(), account, "abc", "http://localhost:4242/")
	require.NoError(t, err)
	require.Equal(t, "code-token", account.AccessToken)
	require.Equal(t, "code-rt", account.RefreshToken)
}

func TestUsableScope(t *testing.T) {
	require.Equal(t, "openid offline_access",
		usableScope("https://idp.example.com/", "openid offline_access extra", "openid profile offline_access"))
	require.Equal(t, "openid",
		usableScope("https://accounts.google.com/", "openid offline_access", "openid profile"))
	require.Equal(t, "openid profile offline_access",
		usableScope("https://idp.example.com/", "max", "profile"))
}

func TestRevokeRefreshRequiresEndpoint(t *testing.T) {
	account := &registry.Account{RefreshToken: "rt"}
	e := newTestEngine()
	err := e.RevokeRefresh(context.Background(), account)
	require.Error(t, err)
}

// RFC 7009: a compliant revocation endpoint replies 200 with an empty
// body; RevokeRefresh must treat that as success, not a decode error.
func TestRevokeRefreshToleratesEmptyBody(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "rt", r.Form.Get("token"))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	account := &registry.Account{RefreshToken: "rt", Endpoints: registry.IssuerEndpoints{Revocation: srv.URL}}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	err := e.RevokeRefresh(context.Background(), account)
	require.NoError(t, err)
	require.Empty(t, account.RefreshToken)
}

func TestRevokeRefreshSurfacesIdPError(t *testing.T) {
	srv := tokenEndpointServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{Error: "unsupported_token_type"})
	})
	defer srv.Close()

	account := &registry.Account{RefreshToken: "rt", Endpoints: registry.IssuerEndpoints{Revocation: srv.URL}}
	e := newTestEngine()
	e.HTTPClient = srv.Client()

	err := e.RevokeRefresh(context.Background(), account)
	require.Error(t, err)
	require.Equal(t, "rt", account.RefreshToken)
}

// cert_path (spec.md §3) must be consulted per-account: a stray path
// that doesn't resolve to a readable PEM bundle is tolerated by
// falling back to the default client rather than failing discovery.
func TestHTTPClientForFallsBackOnBadCertPath(t *testing.T) {
	e := newTestEngine()
	account := &registry.Account{ShortName: "work", CertPath: "/nonexistent/ca.pem"}
	client := e.httpClientFor(account)
	require.Same(t, e.HTTPClient, client)
}

func TestHTTPClientForIsUnchangedWithoutCertPath(t *testing.T) {
	e := newTestEngine()
	account := &registry.Account{ShortName: "work"}
	require.Same(t, e.HTTPClient, e.httpClientFor(account))
}

// failingClient returns an http.Client whose transport always errors,
// used to assert that no outbound call is made for a cached hit.
func failingClient(t *testing.T) *http.Client {
	t.Helper()
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected outbound HTTP call to %s", r.URL)
		return nil, nil
	})}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
