package ipcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/vingar/oidc-agent/internal/agenterr"
	"github.com/vingar/oidc-agent/internal/flow"
	"github.com/vingar/oidc-agent/internal/registry"
)

// candidateRedirectPorts is tried, in order, when binding the loopback
// listener for a code flow whose account lists no redirect URI with a
// port, mirroring original_source's fixed range of localhost ports
// registered with providers ahead of time.
var candidateRedirectPorts = []int{4242, 4243, 4244, 4245, 4246}

func (s *Server) dispatch(ctx context.Context, raw json.RawMessage) response {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed request: %v", err))
	}

	switch env.Request {
	case ReqAccessToken:
		return s.handleAccessToken(ctx, raw)
	case ReqAccountList:
		return s.handleAccountList()
	case ReqAdd:
		return s.handleAdd(ctx, raw)
	case ReqRemove:
		return s.handleRemove(raw)
	case ReqDelete:
		return s.handleDelete(raw)
	case ReqGen:
		return s.handleGen(ctx, raw)
	case ReqRegister:
		return s.handleRegister(ctx, raw)
	case ReqCodeExchange:
		return s.handleCodeExchange(ctx, raw)
	case ReqStateLookup:
		return s.handleStateLookup(raw)
	case ReqDevice:
		return s.handleDevice(ctx, raw)
	default:
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "unknown request %q", env.Request))
	}
}

func (s *Server) handleAccessToken(ctx context.Context, raw json.RawMessage) response {
	var req accessTokenRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed access_token request: %v", err))
	}
	account, err := s.Registry.Get(req.Account)
	if err != nil {
		return errorResponse(err)
	}
	token, err := s.Engine.GetAccessToken(ctx, account, req.MinValidPeriod, req.Scope)
	if err != nil {
		return errorResponse(err)
	}
	r := successResponse()
	r.AccessToken = token
	return r
}

func (s *Server) handleAccountList() response {
	names := s.Registry.ListShortNames()
	if len(names) == 0 {
		return response{Status: StatusNotFound}
	}
	r := successResponse()
	r.AccountList = names
	return r
}

func (s *Server) handleAdd(ctx context.Context, raw json.RawMessage) response {
	var req addRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed add request: %v", err))
	}
	accountJSON, err := s.Store.ReadAccount(req.Account, req.Password)
	if err != nil {
		return errorResponse(err)
	}
	var account registry.Account
	if err := json.Unmarshal(accountJSON, &account); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed account file for %q: %v", req.Account, err))
	}
	if account.ShortName == "" {
		account.ShortName = req.Account
	}
	if !s.Config.IssuerAllowed(account.IssuerURL) {
		return errorResponse(agenterr.Newf(agenterr.CodeAuthFail, "issuer %q is not on the configured allow-list", account.IssuerURL))
	}
	if account.Endpoints.Token == "" {
		if err := s.Engine.Discover(ctx, &account); err != nil {
			return errorResponse(err)
		}
	}
	if err := s.Registry.Add(&account); err != nil {
		return errorResponse(err)
	}
	return successResponse()
}

func (s *Server) handleRemove(raw json.RawMessage) response {
	var req accountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed remove request: %v", err))
	}
	if err := s.Registry.Remove(req.Account); err != nil {
		return errorResponse(err)
	}
	return successResponse()
}

func (s *Server) handleDelete(raw json.RawMessage) response {
	var req accountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed delete request: %v", err))
	}
	// Unloading is best-effort: an account that was never added can
	// still have its persisted file deleted.
	_ = s.Registry.Remove(req.Account)
	if err := s.Store.DeleteAccount(req.Account); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeFileOpen, "%v", err))
	}
	return successResponse()
}

// handleGen drives the interactive account-generation handshake of
// spec.md §4.4.3/§4.4.6: discover, register a client if none was
// supplied, load the account into the registry, bind a fresh state and
// open the loopback listener, and hand the caller the authorization URL
// to open in a browser. The caller completes the flow by forwarding the
// IdP callback through code_exchange once the browser redirects back.
func (s *Server) handleGen(ctx context.Context, raw json.RawMessage) response {
	var req genRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed gen request: %v", err))
	}
	var account registry.Account
	if err := json.Unmarshal(req.Config, &account); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed account config: %v", err))
	}
	if account.ShortName == "" {
		return errorResponse(agenterr.New(agenterr.CodeInternalProtocol, "account config is missing a short name"))
	}
	if !s.Config.IssuerAllowed(account.IssuerURL) {
		return errorResponse(agenterr.Newf(agenterr.CodeAuthFail, "issuer %q is not on the configured allow-list", account.IssuerURL))
	}

	if err := s.Engine.Discover(ctx, &account); err != nil {
		return errorResponse(err)
	}

	if account.ClientID == "" {
		regResp, err := s.Engine.RegisterClient(ctx, flow.RegistrationRequest{
			Account:      &account,
			RedirectURIs: account.RedirectURIs,
		})
		if err != nil {
			return errorResponse(err)
		}
		if err := applyRegistration(&account, regResp); err != nil {
			return errorResponse(err)
		}
	}

	if err := s.Registry.Add(&account); err != nil {
		return errorResponse(err)
	}

	state := uuid.NewString()
	if err := s.Registry.BindState(account.ShortName, state); err != nil {
		return errorResponse(err)
	}

	var ports []int
	for _, u := range account.RedirectURIs {
		if p, err := url.Parse(u); err == nil {
			if n, err := strconv.Atoi(p.Port()); err == nil {
				ports = append(ports, n)
			}
		}
	}
	if len(ports) == 0 {
		ports = candidateRedirectPorts
	}
	redirectURI, err := s.Redirect.Start(ports, state, s)
	if err != nil {
		_, _ = s.Registry.UnbindState(state)
		return errorResponse(agenterr.Newf(agenterr.CodeHTTPServerStart, "%v", err))
	}

	uri, err := s.Engine.BuildCodeFlowURI(&account, state, redirectURI)
	if err != nil {
		s.Redirect.TerminateListener(state)
		return errorResponse(err)
	}

	configJSON, _ := json.Marshal(&account)
	r := response{Status: StatusAccepted, URI: uri, State: state, Config: configJSON}
	return r
}

func (s *Server) handleRegister(ctx context.Context, raw json.RawMessage) response {
	var req registerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed register request: %v", err))
	}
	var account registry.Account
	if err := json.Unmarshal(req.Config, &account); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed account config: %v", err))
	}
	if account.Endpoints.Registration == "" {
		if err := s.Engine.Discover(ctx, &account); err != nil {
			return errorResponse(err)
		}
	}

	result, err := s.Engine.RegisterClient(ctx, flow.RegistrationRequest{
		Account:            &account,
		AccessToken:        req.AccessToken,
		AllowPasswordGrant: req.AllowPasswordGrant,
		RedirectURIs:       account.RedirectURIs,
	})
	if err != nil {
		return errorResponse(err)
	}
	r := successResponse()
	r.Client = result
	return r
}

func (s *Server) handleCodeExchange(ctx context.Context, raw json.RawMessage) response {
	var req codeExchangeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed code_exchange request: %v", err))
	}
	if err := s.exchangeCode(ctx, req.State, req.RedirectURI, req.Code); err != nil {
		return errorResponse(err)
	}
	account, ok := s.Registry.LookupByState(req.State)
	r := successResponse()
	if ok {
		configJSON, _ := json.Marshal(account)
		r.Config = configJSON
	}
	return r
}

func (s *Server) handleStateLookup(raw json.RawMessage) response {
	var req stateLookupRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed state_lookup request: %v", err))
	}
	account, ok := s.Registry.LookupByState(req.State)
	if !ok {
		return errorResponse(agenterr.Newf(agenterr.CodeNoSuchState, "no account bound to state %q", req.State))
	}
	r := successResponse()
	configJSON, _ := json.Marshal(account)
	r.Config = configJSON
	return r
}

// deviceWire round-trips device-flow state between init and poll calls;
// the client is expected to echo it back unmodified on every poll.
type deviceWire struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code,omitempty"`
	VerificationURI         string `json:"verification_uri,omitempty"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	Interval                int64  `json:"interval,omitempty"`
	ExpiresIn               int64  `json:"expires_in,omitempty"`
}

func (s *Server) handleDevice(ctx context.Context, raw json.RawMessage) response {
	var req deviceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed device request: %v", err))
	}
	var account registry.Account
	if err := json.Unmarshal(req.Config, &account); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed account config: %v", err))
	}
	if account.Endpoints.Token == "" {
		if err := s.Engine.Discover(ctx, &account); err != nil {
			return errorResponse(err)
		}
	}

	if len(req.OIDCDevice) == 0 {
		init, err := s.Engine.InitDevice(ctx, &account)
		if err != nil {
			return errorResponse(err)
		}
		dw := deviceWire{
			DeviceCode:              init.DeviceCode,
			UserCode:                init.UserCode,
			VerificationURI:         init.VerificationURI,
			VerificationURIComplete: init.VerificationURIComplete,
			Interval:                init.Interval,
			ExpiresIn:               init.ExpiresIn,
		}
		body, _ := json.Marshal(dw)
		return response{Status: StatusAccepted, OIDCDevice: body}
	}

	var dw deviceWire
	if err := json.Unmarshal(req.OIDCDevice, &dw); err != nil {
		return errorResponse(agenterr.Newf(agenterr.CodeInternalProtocol, "malformed oidc_device: %v", err))
	}

	status, code, err := s.Engine.PollDevice(ctx, &account, dw.DeviceCode)
	switch status {
	case flow.DevicePending, flow.DeviceSlowDown:
		return response{Status: StatusAccepted, Info: code, OIDCDevice: req.OIDCDevice}
	case flow.DeviceSuccess:
		r := successResponse()
		configJSON, _ := json.Marshal(&account)
		r.Config = configJSON
		return r
	default:
		return errorResponse(err)
	}
}

// ExchangeCode implements redirect.Exchanger by routing the loopback
// callback through the same dispatcher serialization every other
// request uses.
func (s *Server) ExchangeCode(ctx context.Context, state, redirectURI, code string) error {
	raw, _ := json.Marshal(codeExchangeRequest{Request: ReqCodeExchange, State: state, RedirectURI: redirectURI, Code: code})
	j := job{ctx: ctx, raw: raw, resp: make(chan response, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case resp := <-j.resp:
		if resp.Status != StatusSuccess {
			return fmt.Errorf("%s", resp.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) exchangeCode(ctx context.Context, state, redirectURI, code string) error {
	account, err := s.Registry.UnbindState(state)
	if err != nil {
		return err
	}
	s.Redirect.TerminateListener(state)
	if err := s.Engine.ExchangeCode(ctx, account, code, redirectURI); err != nil {
		return err
	}
	return nil
}

func applyRegistration(account *registry.Account, raw json.RawMessage) error {
	var reg struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(raw, &reg); err != nil {
		return fmt.Errorf("ipcserver: malformed registration response: %w", err)
	}
	if reg.ClientID == "" {
		return agenterr.New(agenterr.CodeIdPError, "registration response is missing client_id")
	}
	account.ClientID = reg.ClientID
	account.ClientSecret = reg.ClientSecret
	return nil
}
