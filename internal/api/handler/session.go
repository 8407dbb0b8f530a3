package handler

import (
	"net/http"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
)

type sessionResponse struct {
	LoggedIn bool                 `json:"loggedIn"`
	Outcome  string               `json:"outcome"`
	UserInfo *credential.UserInfo `json:"userInfo"`
}

// SessionHandler exposes the gate's view of the current request.
type SessionHandler struct{}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// Get handles GET /v1/session. Tokens are never echoed back.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	d, ok := gate.FromContext(r.Context())
	if !ok {
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Session state unavailable", requestID)
		return
	}

	resp := sessionResponse{
		LoggedIn: d.LoggedIn,
		Outcome:  d.Outcome.String(),
	}
	if d.LoggedIn {
		resp.UserInfo = d.Bundle.UserInfo
	}
	response.Success(w, http.StatusOK, resp, requestID)
}

// Me handles GET /v1/session/me. It runs behind RequireLoggedIn.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	response.Success(w, http.StatusOK, middleware.CurrentUser(r), requestID)
}
