package middleware

import (
	"net/http"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
)

// RequireLoggedIn rejects requests the gate did not mark as logged in.
// It must run after gate.Middleware.
func RequireLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())

		d, ok := gate.FromContext(r.Context())
		if !ok || !d.LoggedIn || d.Bundle.UserInfo == nil {
			response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login required", requestID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the member the gate resolved for this request, or nil.
func CurrentUser(r *http.Request) *credential.UserInfo {
	d, ok := gate.FromContext(r.Context())
	if !ok || !d.LoggedIn {
		return nil
	}
	return d.Bundle.UserInfo
}
