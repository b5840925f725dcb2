package flow

import "strings"

const googleIssuer = "https://accounts.google.com/"

// usableScope computes the subset of account.scope that also appears in
// scopes_supported, after augmenting scopes_supported with the
// mandatory "openid" and, for non-Google issuers, "offline_access".
// The special value "max" requests the full augmented supported set.
// Implements spec.md §4.4.5 / property P5.
func usableScope(issuerURL, scope, scopesSupported string) string {
	augmented := splitScope(scopesSupported)
	augmented = ensureScope(augmented, "openid")
	if issuerURL != googleIssuer {
		augmented = ensureScope(augmented, "offline_access")
	}

	if scope == "max" {
		return strings.Join(augmented, " ")
	}

	supported := make(map[string]bool, len(augmented))
	for _, s := range augmented {
		supported[s] = true
	}

	var usable []string
	for _, s := range splitScope(scope) {
		if supported[s] {
			usable = append(usable, s)
		}
	}
	return strings.Join(usable, " ")
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}

func ensureScope(scopes []string, want string) []string {
	for _, s := range scopes {
		if s == want {
			return scopes
		}
	}
	return append(scopes, want)
}
