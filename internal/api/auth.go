package api

import (
	"net/http"

	"github.com/kalambet/chatfn/internal/auth"
	"github.com/kalambet/chatfn/internal/errs"
)

// RequireAuth verifies the bearer token and stores the caller's identity in
// the request context.
func RequireAuth(v auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, errs.Unauthorized("Authentication required. Please provide a valid Bearer token."))
				return
			}
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
