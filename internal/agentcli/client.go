// Package agentcli is the thin client side of the IPC protocol shared
// by oidc-gen (and any other local tool) for talking to a running
// oidc-agentd over its UNIX-domain socket: one connection per request,
// a single JSON object written and a single JSON object read back.
package agentcli

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Response mirrors internal/ipcserver's wire response shape. It lives
// here, rather than being imported from internal/ipcserver, because a
// client has no business depending on the daemon's internal package --
// it only needs the wire contract.
type Response struct {
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Info        string          `json:"info,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	AccountList []string        `json:"account_list,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Client      json.RawMessage `json:"client,omitempty"`
	URI         string          `json:"uri,omitempty"`
	State       string          `json:"state,omitempty"`
	OIDCDevice  json.RawMessage `json:"oidc_device,omitempty"`
}

// ErrRequest is returned when the daemon answers with status "failure".
type ErrRequest struct {
	Code string
	Info string
}

func (e *ErrRequest) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.Info)
	}
	return e.Code
}

// Client dials the agent's socket for exactly as long as one
// request/response round trip takes; the daemon treats each connection
// as a single unit of work, so there is no persistent connection to
// manage here.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// New returns a Client bound to socketPath with a sane default timeout.
func New(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 30 * time.Second}
}

// Call sends req (any JSON-marshalable value carrying a "request"
// field) and returns the decoded response. A "failure" status is
// surfaced as an *ErrRequest so callers can type-switch on it.
func (c *Client) Call(req interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("agentcli: connect to %s: %w (is oidc-agentd running?)", c.SocketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, fmt.Errorf("agentcli: set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("agentcli: write request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("agentcli: read response: %w", err)
	}
	if resp.Status == "failure" {
		return &resp, &ErrRequest{Code: resp.Error, Info: resp.Info}
	}
	return &resp, nil
}
