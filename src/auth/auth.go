// Package auth models the authentication boundary spec.md §1 treats as an
// external collaborator. It exposes a narrow Identifier interface so the
// session endpoint and the leaderboard handler never depend on a specific
// authentication scheme.
package auth

import (
	"net/http"
	"strconv"
)

// Identifier resolves the authenticated user behind an HTTP request or a
// websocket upgrade request. Both cases share the same signature because
// an upgrade request is itself an *http.Request before the handshake
// completes.
type Identifier interface {
	Identify(r *http.Request) (userID int64, ok bool)
}

// HeaderName is the trusted header StaticHeader reads the user identity
// from. It is only safe to trust behind a proxy that itself authenticates
// the caller and sets this header, stripping any client-supplied value.
const HeaderName = "X-User-Id"

// StaticHeader trusts an upstream proxy to have authenticated the caller
// and to forward the resulting identity in a header, generalized from the
// teacher's BehindProxy / getClientIP header-trust pattern used for
// client IP resolution in the rate limiter.
type StaticHeader struct{}

func (StaticHeader) Identify(r *http.Request) (int64, bool) {
	return parseUserID(r.Header.Get(HeaderName))
}

func parseUserID(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
