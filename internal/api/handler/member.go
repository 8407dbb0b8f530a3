package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/authfetch"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
)

// maxMemberBody caps the directory API response relayed to the client.
const maxMemberBody = 1 << 20

// MemberHandler loads the logged-in member's profile from the directory API
// with the request's own credentials.
type MemberHandler struct {
	fetcher *authfetch.Shared
	stores  credential.RequestStoreFunc
	opts    credential.CookieOptions
	baseURL string
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(fetcher *authfetch.Shared, stores credential.RequestStoreFunc, opts credential.CookieOptions, baseURL string) *MemberHandler {
	return &MemberHandler{
		fetcher: fetcher,
		stores:  stores,
		opts:    opts,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Me handles GET /v1/members/me. It runs behind RequireLoggedIn.
func (h *MemberHandler) Me(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user := middleware.CurrentUser(r)

	target := h.baseURL + "/v1/members/" + url.PathEscape(user.UID)
	resp, err := h.fetcher.For(h.stores(w, r)).Get(r.Context(), target, true)
	if errors.Is(err, authfetch.ErrLoggedOut) {
		credential.ClearLoggedIn(w, h.opts)
		response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login required", requestID)
		return
	}
	if err != nil {
		slog.Error("failed to fetch member", "error", err, "uid", user.UID, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Directory API unavailable", requestID)
		return
	}
	defer resp.Body.Close()

	// Still unauthorized after a renewal; the logout has been broadcast.
	if resp.StatusCode == http.StatusUnauthorized {
		credential.ClearLoggedIn(w, h.opts)
		response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Login required", requestID)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("directory API rejected member lookup", "status", resp.StatusCode, "uid", user.UID, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Directory API returned an error", requestID)
		return
	}

	var member json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMemberBody)).Decode(&member); err != nil {
		slog.Error("failed to decode member", "error", err, "uid", user.UID, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Directory API returned an invalid response", requestID)
		return
	}

	response.Success(w, http.StatusOK, member, requestID)
}
