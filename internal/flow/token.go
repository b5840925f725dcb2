package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/vingar/oidc-agent/internal/agenterr"
	"github.com/vingar/oidc-agent/internal/registry"
)

// tokenResponse is the JSON shape returned by a token endpoint, success
// or failure.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postToken POSTs application/x-www-form-urlencoded form data to
// endpoint with the client authenticated both via HTTP Basic auth and
// via client_id/client_secret in the body -- spec.md §4.4's
// "belt-and-braces" requirement, which golang.org/x/oauth2's built-in
// token source cannot express (it picks exactly one AuthStyle), hence
// this hand-rolled net/http POST. See DESIGN.md for the full rationale.
func (e *Engine) postToken(ctx context.Context, account *registry.Account, endpoint, clientID, clientSecret string, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("flow: build token request: %w", err)
	}
	req.Body = io.NopCloser(strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if clientSecret != "" {
		req.SetBasicAuth(clientID, clientSecret)
	}

	resp, err := e.httpClientFor(account).Do(req)
	if err != nil {
		return nil, agenterr.Newf(agenterr.CodeIdPError, "token request failed: %v", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		// RFC 7009 revocation endpoints reply 200 with an empty body on
		// success; every other caller treats a genuinely empty
		// tokenResponse as a failure via the AccessToken/Error checks
		// below, so it's safe to tolerate EOF here rather than per call site.
		if err == io.EOF {
			return &tr, nil
		}
		return nil, agenterr.Newf(agenterr.CodeInternalProtocol, "malformed token response: %v", err)
	}
	return &tr, nil
}

func idpError(tr *tokenResponse) error {
	msg := tr.ErrorDescription
	if msg == "" {
		msg = tr.Error
	}
	if msg == "" {
		msg = "unknown error from token endpoint"
	}
	return agenterr.New(agenterr.CodeIdPError, msg)
}

// Refresh implements spec.md §4.4.1. When requestedScope is empty the
// returned access token is also cached on the account (I4); when
// non-empty the token is returned to the caller but not cached.
func (e *Engine) Refresh(ctx context.Context, account *registry.Account, requestedScope string) (string, error) {
	if account.RefreshToken == "" {
		return "", agenterr.New(agenterr.CodeMissingCredentials, "no refresh token on account")
	}
	if account.Endpoints.Token == "" {
		return "", agenterr.New(agenterr.CodeIdPError, "token endpoint not discovered")
	}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {account.RefreshToken}}
	if requestedScope != "" {
		form.Set("scope", requestedScope)
	}

	tr, err := e.postToken(ctx, account, account.Endpoints.Token, account.ClientID, account.ClientSecret, form)
	if err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", idpError(tr)
	}

	if tr.RefreshToken != "" && tr.RefreshToken != account.RefreshToken {
		// I6: the IdP rotated the refresh token. Replace in memory only
		// and surface a warning; the on-disk file is not rewritten
		// without an explicit save.
		e.Log.WithField("account", account.ShortName).Warn(
			"received a new refresh token from the IdP; the old one was most likely revoked. Run oidc-gen again to persist it, or it may be lost.")
		account.RefreshToken = tr.RefreshToken
	}

	expiresAt := int64(0)
	if tr.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + tr.ExpiresIn
	}

	if requestedScope == "" {
		account.AccessToken = tr.AccessToken
		if expiresAt > account.AccessTokenExpiresAt {
			account.AccessTokenExpiresAt = expiresAt
		}
	}

	return tr.AccessToken, nil
}

// PasswordFlow implements spec.md §4.4.2.
func (e *Engine) PasswordFlow(ctx context.Context, account *registry.Account) error {
	if account.Username == "" || account.Password == "" {
		return agenterr.New(agenterr.CodeMissingCredentials, "account has no username/password")
	}
	if account.Endpoints.Token == "" {
		return agenterr.New(agenterr.CodeIdPError, "token endpoint not discovered")
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {account.Username},
		"password":   {account.Password},
	}

	tr, err := e.postToken(ctx, account, account.Endpoints.Token, account.ClientID, account.ClientSecret, form)
	if err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return idpError(tr)
	}

	account.AccessToken = tr.AccessToken
	if tr.ExpiresIn > 0 {
		account.AccessTokenExpiresAt = time.Now().Unix() + tr.ExpiresIn
	}
	if tr.RefreshToken != "" {
		account.RefreshToken = tr.RefreshToken
	}
	return nil
}

// BuildCodeFlowURI implements spec.md §4.4.3 Phase A, steps 1 and 4-5.
// Binding the loopback listener and step 2-3 (picking/binding the port,
// setting used_state) are the caller's (internal/ipcserver's)
// responsibility, since that requires internal/redirect.
func (e *Engine) BuildCodeFlowURI(account *registry.Account, state, redirectURI string) (string, error) {
	if account.Endpoints.Authorization == "" {
		return "", agenterr.New(agenterr.CodeIdPError, "authorization endpoint not discovered")
	}
	account.Username = ""
	account.Password = ""

	scope := usableScope(account.IssuerURL, account.Scope, account.ScopesSupported)

	cfg := oauth2.Config{
		ClientID:     account.ClientID,
		ClientSecret: account.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: account.Endpoints.Authorization, TokenURL: account.Endpoints.Token},
		RedirectURL:  redirectURI,
		Scopes:       splitScope(scope),
	}
	uri := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return uri, nil
}

// ExchangeCode implements spec.md §4.4.3 Phase B step 2-3.
func (e *Engine) ExchangeCode(ctx context.Context, account *registry.Account, code, redirectURI string) error {
	if account.Endpoints.Token == "" {
		return agenterr.New(agenterr.CodeIdPError, "token endpoint not discovered")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"response_type": {"token"},
	}

	tr, err := e.postToken(ctx, account, account.Endpoints.Token, account.ClientID, account.ClientSecret, form)
	if err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return idpError(tr)
	}

	account.AccessToken = tr.AccessToken
	if tr.ExpiresIn > 0 {
		account.AccessTokenExpiresAt = time.Now().Unix() + tr.ExpiresIn
	}
	if tr.RefreshToken != "" {
		account.RefreshToken = tr.RefreshToken
	}
	return nil
}

// RevokeRefresh implements spec.md §4.4.7.
func (e *Engine) RevokeRefresh(ctx context.Context, account *registry.Account) error {
	if account.Endpoints.Revocation == "" {
		return agenterr.New(agenterr.CodeNoRevocationEndpoint, "Token revocation is not supported by this issuer.")
	}
	if account.RefreshToken == "" {
		return agenterr.New(agenterr.CodeMissingCredentials, "account has no refresh token to revoke")
	}

	form := url.Values{
		"token_type_hint": {"refresh_token"},
		"token":           {account.RefreshToken},
	}
	tr, err := e.postToken(ctx, account, account.Endpoints.Revocation, account.ClientID, account.ClientSecret, form)
	if err != nil {
		return err
	}
	if tr.Error != "" {
		return idpError(tr)
	}
	account.RefreshToken = ""
	return nil
}

// RegistrationRequest carries the parameters needed to shape a Dynamic
// Client Registration request per spec.md §4.4.6.
type RegistrationRequest struct {
	Account            *registry.Account
	AccessToken        string
	AllowPasswordGrant bool
	RedirectURIs       []string
}

// RegisterClient implements spec.md §4.4.6.
func (e *Engine) RegisterClient(ctx context.Context, req RegistrationRequest) (json.RawMessage, error) {
	account := req.Account
	if account.Endpoints.Registration == "" {
		return nil, agenterr.WithInfo(agenterr.CodeNoRegistrationEndpoint,
			"Dynamic registration is not supported by this issuer.",
			"register a client manually and run oidc-gen with the manual flag")
	}

	responseTypes := usableResponseTypes(account.ResponseTypesSupported, req.AllowPasswordGrant)
	grantTypes := usableGrantTypes(account.GrantTypesSupported, req.AllowPasswordGrant)

	body := map[string]interface{}{
		"application_type": "web",
		"client_name":      fmt.Sprintf("oidc-agent:%s", account.ShortName),
		"response_types":   responseTypes,
		"grant_types":      grantTypes,
		"scope":            account.Scope,
		"redirect_uris":    req.RedirectURIs,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal registration body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, account.Endpoints.Registration, io.NopCloser(strings.NewReader(string(payload))))
	if err != nil {
		return nil, fmt.Errorf("flow: build registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	}

	resp, err := e.httpClientFor(account).Do(httpReq)
	if err != nil {
		return nil, agenterr.Newf(agenterr.CodeIdPError, "registration request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("flow: read registration response: %w", err)
	}
	return raw, nil
}

func usableResponseTypes(supported []string, allowPasswordGrant bool) []string {
	if allowPasswordGrant {
		// Password grant doesn't use a response_type; still advertise
		// "code" so code flow remains available as a fallback.
		return []string{"code"}
	}
	if len(supported) == 0 {
		return []string{"code"}
	}
	return supported
}

func usableGrantTypes(supported []string, allowPasswordGrant bool) []string {
	types := append([]string(nil), supported...)
	if len(types) == 0 {
		types = append([]string{}, defaultGrantTypes...)
	}
	types = append(types, "refresh_token")
	if allowPasswordGrant {
		types = append(types, "password")
	}
	return dedupe(types)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
