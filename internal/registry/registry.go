package registry

import (
	"sync"

	"github.com/vingar/oidc-agent/internal/agenterr"
)

// Registry is the in-memory set of loaded accounts. All mutation is
// expected to flow through the single IPC dispatcher goroutine (see
// SPEC_FULL.md §5); the RWMutex here exists so that read paths exercised
// directly by tests, or by a future concurrent front door, remain safe
// without relying on that external serialization.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Account
	byState   map[string]*Account
	nameOrder []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]*Account),
		byState: make(map[string]*Account),
	}
}

// Add inserts account, failing with CodeDuplicate if short_name is
// already present (I1).
func (r *Registry) Add(account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[account.ShortName]; ok {
		return agenterr.Newf(agenterr.CodeDuplicate, "account %q already loaded", account.ShortName)
	}
	r.byName[account.ShortName] = account
	r.nameOrder = append(r.nameOrder, account.ShortName)
	return nil
}

// Remove evicts shortName, clearing its secrets before release.
func (r *Registry) Remove(shortName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byName[shortName]
	if !ok {
		return agenterr.Newf(agenterr.CodeNotLoaded, "account %q not loaded", shortName)
	}
	if a.UsedState != "" {
		delete(r.byState, a.UsedState)
	}
	a.Clear()
	delete(r.byName, shortName)
	for i, n := range r.nameOrder {
		if n == shortName {
			r.nameOrder = append(r.nameOrder[:i], r.nameOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the loaded account for shortName, or CodeNotLoaded.
func (r *Registry) Get(shortName string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[shortName]
	if !ok {
		return nil, agenterr.Newf(agenterr.CodeNotLoaded, "account %q not loaded", shortName)
	}
	return a, nil
}

// BindState assigns state to the account's used_state field and
// indexes it for O(1) lookup by state, enforcing I2.
func (r *Registry) BindState(shortName, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byName[shortName]
	if !ok {
		return agenterr.Newf(agenterr.CodeNotLoaded, "account %q not loaded", shortName)
	}
	if existing, ok := r.byState[state]; ok && existing != a {
		return agenterr.Newf(agenterr.CodeDuplicate, "state %q already bound", state)
	}
	if a.UsedState != "" {
		delete(r.byState, a.UsedState)
	}
	a.UsedState = state
	r.byState[state] = a
	return nil
}

// UnbindState clears the binding for state and returns the account it
// was bound to, or CodeNoSuchState.
func (r *Registry) UnbindState(state string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byState[state]
	if !ok {
		return nil, agenterr.Newf(agenterr.CodeNoSuchState, "no account bound to state %q", state)
	}
	delete(r.byState, state)
	a.UsedState = ""
	return a, nil
}

// LookupByState returns the account bound to state without clearing the
// binding, used by the code_exchange and state_lookup handlers.
func (r *Registry) LookupByState(state string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byState[state]
	return a, ok
}

// ListShortNames returns every loaded short name in insertion order.
func (r *Registry) ListShortNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.nameOrder))
	copy(out, r.nameOrder)
	return out
}

// TouchAccessToken replaces the cached access token for shortName,
// enforcing I3: an overwrite with an older expiry is rejected.
func (r *Registry) TouchAccessToken(shortName, token string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byName[shortName]
	if !ok {
		return agenterr.Newf(agenterr.CodeNotLoaded, "account %q not loaded", shortName)
	}
	if a.AccessToken != "" && expiresAt < a.AccessTokenExpiresAt {
		return agenterr.Newf(agenterr.CodeInternalProtocol, "refusing to overwrite access token for %q with an older expiry", shortName)
	}
	a.AccessToken = token
	a.AccessTokenExpiresAt = expiresAt
	return nil
}
