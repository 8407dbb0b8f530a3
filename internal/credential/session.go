package credential

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SessionBackend stores bundles server-side, keyed by an opaque session id.
type SessionBackend interface {
	Session(id string) Store
}

// Rotator is implemented by stores keyed by a client-held session id. Rotate
// moves the store to a freshly issued id and clears the old session, so a
// login never lands in an id the client chose before authenticating.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// sessionCookieLifetime bounds the session id cookie. The tokens behind it
// expire on their own schedule in the backend.
const sessionCookieLifetime = 30 * 24 * time.Hour

// SessionCookieName returns the name of the session id cookie.
func (o CookieOptions) SessionCookieName() string {
	return o.Prefix + "-sid"
}

// ServerSideStores returns a RequestStoreFunc that resolves the session id
// cookie, issuing a new one when absent, and returns the backend's Store for
// it. The returned Store implements Rotator.
func ServerSideStores(backend SessionBackend, opts CookieOptions) RequestStoreFunc {
	return func(w http.ResponseWriter, r *http.Request) Store {
		s := &sessionStore{backend: backend, opts: opts, w: w, r: r}
		if c, err := r.Cookie(opts.SessionCookieName()); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				s.Store = backend.Session(c.Value)
				return s
			}
		}
		s.Store = backend.Session(s.issue())
		return s
	}
}

type sessionStore struct {
	Store

	backend SessionBackend
	opts    CookieOptions
	w       http.ResponseWriter
	r       *http.Request
}

// Rotate switches to a new session id before clearing the old session, so a
// failed Clear still leaves later writes in the new session.
func (s *sessionStore) Rotate(ctx context.Context) error {
	old := s.Store
	s.Store = s.backend.Session(s.issue())
	return old.Clear(ctx)
}

// issue mints a session id, sets it on the response and makes it the only
// session cookie on the request.
func (s *sessionStore) issue() string {
	name := s.opts.SessionCookieName()
	id := uuid.NewString()
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		Domain:   s.opts.Domain,
		Secure:   s.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionCookieLifetime / time.Second),
	})

	kept := s.r.Cookies()
	s.r.Header.Del("Cookie")
	for _, c := range kept {
		if c.Name != name {
			s.r.AddCookie(c)
		}
	}
	s.r.AddCookie(&http.Cookie{Name: name, Value: id})
	return id
}
