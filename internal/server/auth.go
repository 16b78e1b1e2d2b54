package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken guards catalog writes. Clients send the token as
// "Authorization: Bearer <token>"; HTTP Basic Auth with the token as password
// is accepted as a fallback. If token is empty, auth is disabled
// (development mode).
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenMatches(r, token) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="nxt-catalog"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
	})
}

func tokenMatches(r *http.Request, token string) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, cred, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(cred)), []byte(token)) == 1
		}
	}
	if _, pass, ok := r.BasicAuth(); ok {
		return subtle.ConstantTimeCompare([]byte(pass), []byte(token)) == 1
	}
	return false
}
