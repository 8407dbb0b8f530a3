package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/handler"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/authfetch"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token/tokentest"
)

type stubRefresher struct {
	bundle credential.Bundle
	err    error
	calls  atomic.Int32
}

func (s *stubRefresher) Refresh(context.Context, string) (credential.Bundle, error) {
	s.calls.Add(1)
	return s.bundle, s.err
}

// directoryAPI answers member lookups, accepting only the listed access tokens.
type directoryAPI struct {
	mu       sync.Mutex
	accepted map[string]bool
	status   int
	body     string
	paths    []string
}

func (d *directoryAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.paths = append(d.paths, r.URL.Path)
	accepted := d.accepted[r.Header.Get("Authorization")]
	d.mu.Unlock()

	if !accepted {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_, _ = w.Write([]byte(d.body))
}

func (d *directoryAPI) seenPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

func serveMember(t *testing.T, api *directoryAPI, store credential.Store, refresher authfetch.Refresher) *httptest.ResponseRecorder {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	fetcher := authfetch.NewShared(refresher, authfetch.WithNotifier(logout.New()))
	h := handler.NewMemberHandler(fetcher, fixedStores(store), testOptions(), srv.URL+"/")

	b, err := store.Read(context.Background())
	require.NoError(t, err)
	req := withDecision(httptest.NewRequest(http.MethodGet, "/v1/members/me", nil),
		gate.Decision{Outcome: gate.PassThrough, Bundle: b, LoggedIn: true})
	w := httptest.NewRecorder()
	h.Me(w, req)
	return w
}

func TestMemberHandler_Me(t *testing.T) {
	// Arrange
	b := memberBundle(t)
	store := credential.NewMemoryStore(nil)
	store.Seed(b)
	api := &directoryAPI{
		accepted: map[string]bool{"Bearer " + b.AccessToken: true},
		status:   http.StatusOK,
		body:     `{"uid":"uid-1","name":"Ada","teams":[{"uid":"team-1"}]}`,
	}
	refresher := &stubRefresher{}

	// Act
	w := serveMember(t, api, store, refresher)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "Ada", data["name"])
	assert.Len(t, data["teams"], 1)
	assert.Equal(t, []string{"/v1/members/uid-1"}, api.seenPaths())
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestMemberHandler_RenewsExpiredAccessToken(t *testing.T) {
	// Arrange
	stale := memberBundle(t)
	fresh := credential.Bundle{
		AccessToken:  tokentest.Valid(t, "uid-1", 2*time.Hour),
		RefreshToken: tokentest.Valid(t, "uid-1", 48*time.Hour),
		UserInfo:     stale.UserInfo,
	}
	store := credential.NewMemoryStore(nil)
	store.Seed(stale)
	api := &directoryAPI{
		accepted: map[string]bool{"Bearer " + fresh.AccessToken: true},
		status:   http.StatusOK,
		body:     `{"uid":"uid-1"}`,
	}
	refresher := &stubRefresher{bundle: fresh}

	// Act
	w := serveMember(t, api, store, refresher)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Len(t, api.seenPaths(), 2)

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh.AccessToken, got.AccessToken)
}

func TestMemberHandler_RefreshFailureLogsOut(t *testing.T) {
	// Arrange
	store := credential.NewMemoryStore(nil)
	store.Seed(memberBundle(t))
	api := &directoryAPI{status: http.StatusOK, body: `{}`}
	refresher := &stubRefresher{err: errors.New("refresh token revoked")}

	// Act
	w := serveMember(t, api, store, refresher)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	flag := responseCookie(w, testOptions().Names().IsLoggedIn)
	require.NotNil(t, flag)
	assert.Equal(t, -1, flag.MaxAge)

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestMemberHandler_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`},
		{name: "not found", status: http.StatusNotFound, body: `{}`},
		{name: "invalid body", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := memberBundle(t)
			store := credential.NewMemoryStore(nil)
			store.Seed(b)
			api := &directoryAPI{
				accepted: map[string]bool{"Bearer " + b.AccessToken: true},
				status:   tt.status,
				body:     tt.body,
			}

			w := serveMember(t, api, store, &stubRefresher{})

			assert.Equal(t, http.StatusBadGateway, w.Code)
			assert.Equal(t, "UPSTREAM_ERROR", errorCode(t, w))
		})
	}
}

func TestMemberHandler_UnauthorizedAfterRenewalClearsFlag(t *testing.T) {
	// Arrange: the directory API rejects every token, including the renewed one.
	store := credential.NewMemoryStore(nil)
	store.Seed(memberBundle(t))
	api := &directoryAPI{status: http.StatusOK, body: `{}`}
	refresher := &stubRefresher{bundle: memberBundle(t)}

	// Act
	w := serveMember(t, api, store, refresher)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Len(t, api.seenPaths(), 2)

	flag := responseCookie(w, testOptions().Names().IsLoggedIn)
	require.NotNil(t, flag)
	assert.Equal(t, -1, flag.MaxAge)
}
