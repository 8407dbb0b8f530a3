package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token/tokentest"
)

func testOptions() credential.CookieOptions {
	return credential.CookieOptions{Prefix: "directory", Secure: true}
}

func memberBundle(t *testing.T) credential.Bundle {
	t.Helper()
	return credential.Bundle{
		AccessToken:  tokentest.Valid(t, "uid-1", time.Hour),
		RefreshToken: tokentest.Valid(t, "uid-1", 24*time.Hour),
		UserInfo:     &credential.UserInfo{UID: "uid-1", Name: "Ada", Roles: []string{"DIRECTORYADMIN"}},
	}
}

func withDecision(r *http.Request, d gate.Decision) *http.Request {
	return r.WithContext(gate.NewContext(r.Context(), d))
}

// fixedStores hands every request the same store.
func fixedStores(store credential.Store) credential.RequestStoreFunc {
	return func(http.ResponseWriter, *http.Request) credential.Store {
		return store
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	apiErr, ok := decodeEnvelope(t, w)["error"].(map[string]interface{})
	require.True(t, ok, "expected an error envelope, got %s", w.Body.String())
	return apiErr["code"].(string)
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
