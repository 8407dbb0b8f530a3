package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/handler"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
)

func TestSessionHandler_Get(t *testing.T) {
	b := memberBundle(t)

	tests := []struct {
		name         string
		decision     gate.Decision
		wantLoggedIn bool
		wantOutcome  string
	}{
		{
			name:        "anonymous",
			decision:    gate.Decision{Outcome: gate.PassThrough, Reason: gate.ReasonAnonymous},
			wantOutcome: "pass_through",
		},
		{
			name:         "refreshed",
			decision:     gate.Decision{Outcome: gate.Refreshed, Bundle: b, LoggedIn: true},
			wantLoggedIn: true,
			wantOutcome:  "refreshed",
		},
		{
			name:        "cleared",
			decision:    gate.Decision{Outcome: gate.Cleared, Reason: gate.ReasonRefreshFailed},
			wantOutcome: "cleared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			h := handler.NewSessionHandler()
			req := withDecision(httptest.NewRequest(http.MethodGet, "/v1/session", nil), tt.decision)
			w := httptest.NewRecorder()

			// Act
			h.Get(w, req)

			// Assert
			require.Equal(t, http.StatusOK, w.Code)
			data := decodeEnvelope(t, w)["data"].(map[string]interface{})
			assert.Equal(t, tt.wantLoggedIn, data["loggedIn"])
			assert.Equal(t, tt.wantOutcome, data["outcome"])
			assert.NotContains(t, w.Body.String(), b.AccessToken, "tokens must never be echoed")
			assert.NotContains(t, w.Body.String(), b.RefreshToken, "tokens must never be echoed")
			if tt.wantLoggedIn {
				assert.Equal(t, "uid-1", data["userInfo"].(map[string]interface{})["uid"])
			} else {
				assert.Nil(t, data["userInfo"])
			}
		})
	}
}

func TestSessionHandler_GetWithoutGate(t *testing.T) {
	h := handler.NewSessionHandler()
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	w := httptest.NewRecorder()

	h.Get(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionHandler_Me(t *testing.T) {
	b := memberBundle(t)
	h := handler.NewSessionHandler()
	req := withDecision(httptest.NewRequest(http.MethodGet, "/v1/session/me", nil),
		gate.Decision{Outcome: gate.PassThrough, Bundle: b, LoggedIn: true})
	w := httptest.NewRecorder()

	h.Me(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "uid-1", data["uid"])
	assert.Equal(t, "Ada", data["name"])
	assert.Equal(t, []interface{}{"DIRECTORYADMIN"}, data["roles"])
}
