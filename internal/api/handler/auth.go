package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/response"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/validation"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/identity"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
)

// Exchanger is the part of the identity client the login flow needs.
type Exchanger interface {
	CreateAuthState(ctx context.Context, state string) (string, error)
	ExchangeThirdPartyToken(ctx context.Context, providerToken, stateID string) (credential.Bundle, error)
}

type stateRequest struct {
	State string `json:"state"`
}

type stateResponse struct {
	StateUID string `json:"stateUid"`
}

type exchangeRequest struct {
	ExchangeRequestToken string `json:"exchangeRequestToken"`
	ExchangeRequestID    string `json:"exchangeRequestId"`
}

type exchangeResponse struct {
	UserInfo *credential.UserInfo `json:"userInfo"`
}

// AuthHandler handles the login and logout endpoints.
type AuthHandler struct {
	idp      Exchanger
	stores   credential.RequestStoreFunc
	opts     credential.CookieOptions
	notifier *logout.Notifier
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(idp Exchanger, stores credential.RequestStoreFunc, opts credential.CookieOptions, notifier *logout.Notifier) *AuthHandler {
	if notifier == nil {
		notifier = logout.Default()
	}
	return &AuthHandler{
		idp:      idp,
		stores:   stores,
		opts:     opts,
		notifier: notifier,
	}
}

// State handles POST /v1/auth/state.
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	fieldErrors := validation.ValidateStateRequest(validation.StateRequest{State: req.State})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	uid, err := h.idp.CreateAuthState(r.Context(), req.State)
	if err != nil {
		slog.Error("failed to create auth state", "error", err, "requestId", requestID)
		response.Err(w, http.StatusBadGateway, "STATE_FAILED", "Login failed, please try again", requestID)
		return
	}

	response.Success(w, http.StatusCreated, stateResponse{StateUID: uid}, requestID)
}

// Exchange handles POST /v1/auth/exchange.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	fieldErrors := validation.ValidateExchangeRequest(validation.ExchangeRequest{
		ExchangeRequestToken: req.ExchangeRequestToken,
		ExchangeRequestID:    req.ExchangeRequestID,
	})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	b, err := h.idp.ExchangeThirdPartyToken(r.Context(), req.ExchangeRequestToken, req.ExchangeRequestID)
	if err != nil {
		var failure *identity.ExchangeFailure
		if errors.As(err, &failure) && failure.Rejected() {
			response.Err(w, http.StatusUnauthorized, "EXCHANGE_REJECTED", "Login failed, please try again", requestID)
			return
		}
		response.Err(w, http.StatusBadGateway, "EXCHANGE_FAILED", "Login failed, please try again", requestID)
		return
	}

	store := h.stores(w, r)
	if rotator, ok := store.(credential.Rotator); ok {
		if err := rotator.Rotate(r.Context()); err != nil {
			slog.Warn("failed to clear pre-login session", "error", err, "requestId", requestID)
		}
	}
	if err := store.Write(r.Context(), b); err != nil {
		slog.Error("failed to persist exchanged credentials", "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store credentials", requestID)
		return
	}
	credential.SetLoggedIn(w, h.opts, b.RefreshToken)

	slog.Info("member logged in", "uid", b.UserInfo.UID, "requestId", requestID)
	response.Success(w, http.StatusOK, exchangeResponse{UserInfo: b.UserInfo}, requestID)
}

// Logout handles POST /v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if err := h.stores(w, r).Clear(r.Context()); err != nil {
		slog.Warn("failed to clear credentials on logout", "error", err, "requestId", requestID)
	}
	credential.ClearLoggedIn(w, h.opts)
	h.notifier.Emit(logout.ReasonExplicit)

	response.NoContent(w)
}
