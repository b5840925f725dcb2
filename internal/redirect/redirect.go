// Package redirect implements the loopback authorization-capture
// listener: a small HTTP server bound to a localhost port from the
// account's registered redirect URIs that receives the IdP's
// authorization-code callback, correlates it by state, and forwards the
// code to the agent's dispatcher for exchange.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Exchanger is the narrow interface the listener needs from the agent's
// dispatcher: submit a REQUEST_VALUE_CODEEXCHANGE-equivalent call and
// get back either nil (success) or an IdP-surfaced error string.
type Exchanger interface {
	ExchangeCode(ctx context.Context, state, redirectURI, code string) error
}

// Listener is one spawned loopback HTTP server, bound to a single
// state. In the original C implementation this is a forked process per
// state (SPEC_FULL.md §4.5 notes the accepted goroutine-based redesign
// that is implemented here).
type Listener struct {
	state       string
	redirectURI string
	exchanger   Exchanger
	log         logrus.FieldLogger

	srv    *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks outstanding listeners keyed by state so that
// TerminateListener can stop one on account remove or generation cancel.
type Manager struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	log       logrus.FieldLogger
}

// NewManager returns an empty listener manager.
func NewManager(log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{listeners: make(map[string]*Listener), log: log}
}

// Start binds an HTTP listener on the first available port out of
// candidatePorts, registers it under state, and begins serving. It
// returns the bound redirect URI (http://localhost:<port>/).
func (m *Manager) Start(candidatePorts []int, state string, exchanger Exchanger) (string, error) {
	var lastErr error
	for _, port := range candidatePorts {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		redirectURI := fmt.Sprintf("http://localhost:%d/", port)
		l := &Listener{
			state:       state,
			redirectURI: redirectURI,
			exchanger:   exchanger,
			log:         m.log.WithField("state", state),
			done:        make(chan struct{}),
		}
		router := mux.NewRouter()
		router.HandleFunc("/", l.handle).Methods(http.MethodGet)
		l.srv = &http.Server{Handler: router}

		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel

		m.mu.Lock()
		m.listeners[state] = l
		m.mu.Unlock()

		go func() {
			defer close(l.done)
			_ = l.srv.Serve(ln)
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = l.srv.Shutdown(shutdownCtx)
		}()

		return redirectURI, nil
	}
	if lastErr == nil {
		lastErr = errors.New("redirect: no candidate ports supplied")
	}
	return "", fmt.Errorf("redirect: could not bind loopback listener: %w", lastErr)
}

// TerminateListener stops and unregisters the listener bound to state,
// if any. Safe to call for an unknown state (no-op).
func (m *Manager) TerminateListener(state string) {
	m.mu.Lock()
	l, ok := m.listeners[state]
	if ok {
		delete(m.listeners, state)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	errParam := q.Get("error")
	errDescription := q.Get("error_description")

	switch {
	case code != "" && state == l.state:
		l.handleCode(w, r.Context(), code, state)
	case code != "":
		l.log.WithFields(logrus.Fields{"got_state": state, "want_state": l.state}).Warn("redirect callback carried an unexpected state")
		renderTemplate(w, http.StatusBadRequest, wrongStateTemplate, nil)
	case errParam != "":
		renderTemplate(w, http.StatusBadRequest, errorTemplate, combineError(errParam, errDescription))
	default:
		renderTemplate(w, http.StatusBadRequest, noCodeTemplate, nil)
	}
}

func (l *Listener) handleCode(w http.ResponseWriter, ctx context.Context, code, state string) {
	err := l.exchanger.ExchangeCode(ctx, state, l.redirectURI, code)
	if err != nil {
		renderTemplate(w, http.StatusOK, codeExchangeFailedTemplate, err.Error())
		return
	}
	renderTemplate(w, http.StatusOK, successTemplate, state)
}

func combineError(errParam, description string) string {
	if description == "" {
		return errParam
	}
	return fmt.Sprintf("%s: %s", errParam, description)
}

func renderTemplate(w http.ResponseWriter, status int, t *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = t.Execute(w, data)
}
