package authfetch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/authfetch"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token/tokentest"
)

type fakeRefresher struct {
	fresh credential.Bundle
	err   error
	calls atomic.Int32
	// gate, when set, blocks every call until it is released.
	gate func()
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (credential.Bundle, error) {
	f.calls.Add(1)
	if f.gate != nil {
		f.gate()
	}
	return f.fresh, f.err
}

func newBundle(t *testing.T, uid string) credential.Bundle {
	t.Helper()
	return credential.Bundle{
		AccessToken:  tokentest.Valid(t, uid, 15*time.Minute),
		RefreshToken: tokentest.Valid(t, uid, 24*time.Hour),
		UserInfo:     &credential.UserInfo{UID: uid},
	}
}

// apiServer answers 200 only for the accepted bearer token.
type apiServer struct {
	mu       sync.Mutex
	accepted string
	always   int
	bodies   []string
	fetches  atomic.Int32
}

func (s *apiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.fetches.Add(1)
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	accepted, always := s.accepted, s.always
	s.mu.Unlock()

	if always != 0 {
		w.WriteHeader(always)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+accepted {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = io.WriteString(w, "ok")
}

func (s *apiServer) seenBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

func recordLogouts(n *logout.Notifier) *[]logout.Reason {
	var mu sync.Mutex
	reasons := &[]logout.Reason{}
	n.OnLogout(func(ev logout.Event) {
		mu.Lock()
		*reasons = append(*reasons, ev.Reason)
		mu.Unlock()
	})
	return reasons
}

func TestDo_RefreshesOnceAfter401(t *testing.T) {
	current := newBundle(t, "uid-1")
	fresh := newBundle(t, "uid-1")
	api := &apiServer{accepted: fresh.AccessToken}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), current))
	refresher := &fakeRefresher{fresh: fresh}
	notifier := logout.New()
	logouts := recordLogouts(notifier)

	client := authfetch.New(store, refresher, authfetch.WithNotifier(notifier))
	resp, err := client.Post(context.Background(), srv.URL+"/v1/members", "application/json",
		strings.NewReader(`{"name":"Ada"}`), true)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(2), api.fetches.Load())
	assert.Equal(t, []string{`{"name":"Ada"}`, `{"name":"Ada"}`}, api.seenBodies(), "retry resends the body")
	assert.Empty(t, *logouts)

	stored, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, stored)
}

func TestDo_Always401EndsWithLogout(t *testing.T) {
	api := &apiServer{always: http.StatusUnauthorized}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))
	refresher := &fakeRefresher{fresh: newBundle(t, "uid-1")}
	notifier := logout.New()
	logouts := recordLogouts(notifier)

	client := authfetch.New(store, refresher, authfetch.WithNotifier(notifier))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/members", true)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(2), api.fetches.Load())
	assert.Equal(t, []logout.Reason{logout.ReasonUnauthorizedAfterRefresh}, *logouts)
}

func TestDo_NoRefreshTokenShortCircuits(t *testing.T) {
	api := &apiServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	store.Seed(credential.Bundle{AccessToken: "orphan"})
	refresher := &fakeRefresher{}
	notifier := logout.New()
	logouts := recordLogouts(notifier)

	client := authfetch.New(store, refresher, authfetch.WithNotifier(notifier))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/members", true)

	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, authfetch.ErrLoggedOut))
	assert.Equal(t, int32(0), api.fetches.Load())
	assert.Equal(t, int32(0), refresher.calls.Load())
	assert.Equal(t, []logout.Reason{logout.ReasonNoCredentials}, *logouts)
}

func TestDo_MissingAccessTokenRefreshesFirst(t *testing.T) {
	fresh := newBundle(t, "uid-1")
	api := &apiServer{accepted: fresh.AccessToken}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	store.Seed(credential.Bundle{RefreshToken: "refresh-only"})
	refresher := &fakeRefresher{fresh: fresh}

	client := authfetch.New(store, refresher, authfetch.WithNotifier(logout.New()))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/members", true)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(1), api.fetches.Load())
}

func TestDo_RefreshFailureClearsAndLogsOut(t *testing.T) {
	api := &apiServer{accepted: "never"}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))
	refresher := &fakeRefresher{err: errors.New("refresh rejected")}
	notifier := logout.New()
	logouts := recordLogouts(notifier)

	client := authfetch.New(store, refresher, authfetch.WithNotifier(notifier))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/members", true)

	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, authfetch.ErrLoggedOut))
	assert.Equal(t, int32(1), api.fetches.Load())
	assert.Equal(t, []logout.Reason{logout.ReasonRefreshFailed}, *logouts)

	stored, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Empty())
}

func TestDo_NonUnauthorizedErrorsPassThrough(t *testing.T) {
	api := &apiServer{always: http.StatusInternalServerError}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))
	refresher := &fakeRefresher{}

	client := authfetch.New(store, refresher, authfetch.WithNotifier(logout.New()))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/members", true)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(0), refresher.calls.Load())
	assert.Equal(t, int32(1), api.fetches.Load())
}

func TestDo_WithoutAuthIsPlain(t *testing.T) {
	var authHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))

	client := authfetch.New(store, &fakeRefresher{}, authfetch.WithNotifier(logout.New()))
	resp, err := client.Get(context.Background(), srv.URL+"/v1/public", false)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", authHeader.Load())
}

func concurrentFetches(t *testing.T, client *authfetch.Client, url string, n int) {
	t.Helper()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(context.Background(), url, true)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
}

func TestDo_ConcurrentRefreshesAreCoalesced(t *testing.T) {
	fresh := newBundle(t, "uid-1")
	api := &apiServer{accepted: fresh.AccessToken}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))
	refresher := &fakeRefresher{
		fresh: fresh,
		gate:  func() { time.Sleep(50 * time.Millisecond) },
	}

	client := authfetch.New(store, refresher, authfetch.WithNotifier(logout.New()))
	concurrentFetches(t, client, srv.URL, 10)

	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestDo_WithoutSingleFlightRefreshesPerCaller(t *testing.T) {
	const n = 5
	fresh := newBundle(t, "uid-1")
	api := &apiServer{accepted: fresh.AccessToken}
	srv := httptest.NewServer(api)
	defer srv.Close()

	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Write(context.Background(), newBundle(t, "uid-1")))

	// Hold every refresh until all callers have started one.
	var arrived sync.WaitGroup
	arrived.Add(n)
	refresher := &fakeRefresher{
		fresh: fresh,
		gate: func() {
			arrived.Done()
			arrived.Wait()
		},
	}

	client := authfetch.New(store, refresher,
		authfetch.WithNotifier(logout.New()),
		authfetch.WithoutSingleFlight(),
	)
	concurrentFetches(t, client, srv.URL, n)

	assert.Equal(t, int32(n), refresher.calls.Load())
}

func TestShared_CoalescesAcrossStores(t *testing.T) {
	const n = 6
	fresh := newBundle(t, "uid-1")
	current := newBundle(t, "uid-1")
	api := &apiServer{accepted: fresh.AccessToken}
	srv := httptest.NewServer(api)
	defer srv.Close()

	// Hold the refresh until every caller has seen its 401.
	refresher := &fakeRefresher{
		fresh: fresh,
		gate: func() {
			deadline := time.Now().Add(2 * time.Second)
			for api.fetches.Load() < n && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(20 * time.Millisecond)
		},
	}
	shared := authfetch.NewShared(refresher, authfetch.WithNotifier(logout.New()))

	// Each request has its own store holding the same session.
	stores := make([]*credential.MemoryStore, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		store := credential.NewMemoryStore(nil)
		stores[i] = store
		require.NoError(t, store.Write(context.Background(), current))

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := shared.For(store).Get(context.Background(), srv.URL, true)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(2*n), api.fetches.Load())
	for _, store := range stores {
		got, err := store.Read(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
	}
}
