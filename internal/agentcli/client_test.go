package agentcli

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection on ln, decodes one JSON request,
// and replies with resp.
func serveOnce(t *testing.T, ln net.Listener, resp Response) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	var req map[string]interface{}
	require.NoError(t, json.NewDecoder(conn).Decode(&req))
	require.NoError(t, json.NewEncoder(conn).Encode(resp))
}

func TestCallReturnsDecodedSuccessResponse(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, Response{Status: "success", AccountList: []string{"work", "personal"}})
	}()

	c := New(sockPath)
	resp, err := c.Call(map[string]string{"request": "account_list"})
	require.NoError(t, err)
	require.Equal(t, "success", resp.Status)
	require.Equal(t, []string{"work", "personal"}, resp.AccountList)
	<-done
}

func TestCallSurfacesFailureAsErrRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, Response{Status: "failure", Error: "not_loaded", Info: "account \"work\" is not loaded"})
	}()

	c := New(sockPath)
	_, err = c.Call(map[string]string{"request": "access_token", "account": "work"})
	require.Error(t, err)

	var reqErr *ErrRequest
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "not_loaded", reqErr.Code)
	require.Equal(t, "account \"work\" is not loaded", reqErr.Info)
	<-done
}

func TestCallErrorsWhenSocketMissing(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "does-not-exist.sock"))
	_, err := c.Call(map[string]string{"request": "account_list"})
	require.Error(t, err)
}
