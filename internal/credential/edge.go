package credential

import (
	"context"
	"net/http"
)

// EdgeStore reads the bundle from request cookies and writes it as
// Set-Cookie headers. Writes are mirrored into the request's Cookie header so
// handlers further down the chain see the new bundle in the same request.
type EdgeStore struct {
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions
}

// NewEdgeStore creates an EdgeStore for one request.
func NewEdgeStore(w http.ResponseWriter, r *http.Request, opts CookieOptions) *EdgeStore {
	return &EdgeStore{w: w, r: r, opts: opts}
}

// EdgeStores returns a RequestStoreFunc producing EdgeStores.
func EdgeStores(opts CookieOptions) RequestStoreFunc {
	return func(w http.ResponseWriter, r *http.Request) Store {
		return NewEdgeStore(w, r, opts)
	}
}

// Read returns the bundle carried by the request.
func (s *EdgeStore) Read(_ context.Context) (Bundle, error) {
	names := s.opts.Names()
	return decodeBundle(
		s.requestValue(names.AuthToken),
		s.requestValue(names.RefreshToken),
		s.requestValue(names.UserInfo),
	), nil
}

// Write sets all three cookies on the response and the forwarded request.
func (s *EdgeStore) Write(_ context.Context, b Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	cookies, err := s.opts.bundleCookies(b)
	if err != nil {
		return err
	}
	s.apply(cookies)
	return nil
}

// Clear deletes all three cookies on the response and the forwarded request.
func (s *EdgeStore) Clear(_ context.Context) error {
	s.apply(s.opts.clearCookies())
	return nil
}

// Request returns the request as it should be forwarded downstream.
func (s *EdgeStore) Request() *http.Request {
	return s.r
}

func (s *EdgeStore) requestValue(name string) string {
	c, err := s.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *EdgeStore) apply(cookies []*http.Cookie) {
	replaced := make(map[string]*http.Cookie, len(cookies))
	for _, c := range cookies {
		http.SetCookie(s.w, c)
		replaced[c.Name] = c
	}

	kept := s.r.Cookies()
	s.r.Header.Del("Cookie")
	for _, c := range kept {
		if _, ok := replaced[c.Name]; ok {
			continue
		}
		s.r.AddCookie(c)
	}
	for _, c := range cookies {
		if c.MaxAge < 0 {
			continue
		}
		s.r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}
