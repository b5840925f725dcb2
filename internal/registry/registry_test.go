package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vingar/oidc-agent/internal/agenterr"
)

func TestAddRejectsDuplicateShortName(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&Account{ShortName: "a"}))
	err := r.Add(&Account{ShortName: "a"})
	require.True(t, agenterr.Is(err, agenterr.CodeDuplicate))
}

// P1: for every sequence of add/remove, ListShortNames is the exact set
// of currently added short names, in insertion order.
func TestListShortNamesTracksAddRemove(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&Account{ShortName: "a"}))
	require.NoError(t, r.Add(&Account{ShortName: "b"}))
	require.NoError(t, r.Add(&Account{ShortName: "c"}))
	require.Equal(t, []string{"a", "b", "c"}, r.ListShortNames())

	require.NoError(t, r.Remove("b"))
	require.Equal(t, []string{"a", "c"}, r.ListShortNames())

	require.NoError(t, r.Add(&Account{ShortName: "d"}))
	require.Equal(t, []string{"a", "c", "d"}, r.ListShortNames())
}

func TestRemoveClearsSecretsAndStateBinding(t *testing.T) {
	r := New()
	a := &Account{ShortName: "a", RefreshToken: "rt", Password: "pw"}
	require.NoError(t, r.Add(a))
	require.NoError(t, r.BindState("a", "state1"))

	require.NoError(t, r.Remove("a"))
	require.Equal(t, "", a.RefreshToken)
	require.Equal(t, "", a.Password)

	_, err := r.UnbindState("state1")
	require.True(t, agenterr.Is(err, agenterr.CodeNoSuchState))
}

// I2 / P4: exactly one account may hold a given used_state; after a
// successful exchange, UnbindState(s) subsequently fails with
// CodeNoSuchState.
func TestBindStateEnforcesUniqueness(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&Account{ShortName: "a"}))
	require.NoError(t, r.Add(&Account{ShortName: "b"}))

	require.NoError(t, r.BindState("a", "s"))
	err := r.BindState("b", "s")
	require.True(t, agenterr.Is(err, agenterr.CodeDuplicate))

	acct, ok := r.LookupByState("s")
	require.True(t, ok)
	require.Equal(t, "a", acct.ShortName)

	unbound, err := r.UnbindState("s")
	require.NoError(t, err)
	require.Equal(t, "a", unbound.ShortName)
	require.Equal(t, "", unbound.UsedState)

	_, err = r.UnbindState("s")
	require.True(t, agenterr.Is(err, agenterr.CodeNoSuchState))
}

// I3: access_token_expires_at is monotonic per account.
func TestTouchAccessTokenEnforcesMonotonicExpiry(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&Account{ShortName: "a"}))

	require.NoError(t, r.TouchAccessToken("a", "tok1", 1000))
	err := r.TouchAccessToken("a", "tok-stale", 500)
	require.Error(t, err)

	acct, err := r.Get("a")
	require.NoError(t, err)
	require.Equal(t, "tok1", acct.AccessToken)
	require.Equal(t, int64(1000), acct.AccessTokenExpiresAt)

	require.NoError(t, r.TouchAccessToken("a", "tok2", 2000))
	acct, _ = r.Get("a")
	require.Equal(t, "tok2", acct.AccessToken)
}

func TestGetNotLoaded(t *testing.T) {
	r := New()
	_, err := r.Get("ghost")
	require.True(t, agenterr.Is(err, agenterr.CodeNotLoaded))
}
