package ipcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vingar/oidc-agent/internal/config"
	"github.com/vingar/oidc-agent/internal/flow"
	"github.com/vingar/oidc-agent/internal/redirect"
	"github.com/vingar/oidc-agent/internal/registry"
	"github.com/vingar/oidc-agent/internal/store"
)

// job is one decoded request awaiting dispatch, submitted by a
// connection goroutine and answered by the single dispatcher goroutine.
type job struct {
	ctx  context.Context
	raw  json.RawMessage
	resp chan response
}

// Server is the IPC front door: it owns the registry, the encrypted
// store, the flow engine and the loopback redirect manager, and
// serializes every mutation through a single dispatcher goroutine fed
// by a channel, per spec.md §5. This mirrors the oklog/run-supervised
// listener/worker split in cmd/dex/serve.go, scaled down to one worker
// since the agent's state is small enough not to need sharding.
type Server struct {
	Registry *registry.Registry
	Store    *store.Store
	Engine   *flow.Engine
	Redirect *redirect.Manager
	Config   config.Config
	Log      logrus.FieldLogger

	jobs chan job
}

// New builds a Server around its collaborators. deps must all be
// non-nil; callers (cmd/oidc-agentd) are responsible for constructing
// them.
func New(reg *registry.Registry, st *store.Store, engine *flow.Engine, rd *redirect.Manager, cfg config.Config, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		Registry: reg,
		Store:    st,
		Engine:   engine,
		Redirect: rd,
		Config:   cfg,
		Log:      log,
		jobs:     make(chan job, 16),
	}
}

// Listen binds the UNIX-domain socket at path, removing a stale socket
// file left behind by an unclean shutdown, and restricts it to the
// owning user (spec.md §4.5's "socket permissions 0600").
func Listen(path string) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("ipcserver: chmod %s: %w", path, err)
	}
	return ln, nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ipcserver: stat %s: %w", path, err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		return fmt.Errorf("ipcserver: %s is already in use by a running agent", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("ipcserver: remove stale socket %s: %w", path, err)
	}
	return nil
}

// Accept runs the accept loop against ln until ctx is cancelled, one
// goroutine per connection. Each connection handles exactly one
// request/response round trip, matching spec.md §4.5.1's "single JSON
// object per write/read" framing.
func (s *Server) Accept(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipcserver: accept: %w", err)
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if err != io.EOF {
			s.Log.WithError(err).Debug("ipcserver: malformed request")
		}
		return
	}

	j := job{ctx: ctx, raw: raw, resp: make(chan response, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return
	}

	var resp response
	select {
	case resp = <-j.resp:
	case <-ctx.Done():
		return
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.Log.WithError(err).Debug("ipcserver: failed to write response")
	}
}

// Run drains the job channel on the calling goroutine until ctx is
// cancelled, dispatching one request at a time. It returns nil on clean
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-s.jobs:
			j.resp <- s.dispatch(j.ctx, j.raw)
		}
	}
}
