package credential

import (
	"context"
	"net/http"
	"net/url"
)

// JarStore is the client-side view of the credential cookies. It reads and
// writes through a cookie jar for the directory site, so values set by the
// edge are visible here on the next call and the reverse.
type JarStore struct {
	jar  http.CookieJar
	site *url.URL
	opts CookieOptions
}

// NewJarStore creates a JarStore for site.
func NewJarStore(jar http.CookieJar, site *url.URL, opts CookieOptions) *JarStore {
	return &JarStore{jar: jar, site: site, opts: opts}
}

// Read returns the bundle currently held by the jar.
func (s *JarStore) Read(_ context.Context) (Bundle, error) {
	values := make(map[string]string)
	for _, c := range s.jar.Cookies(s.site) {
		values[c.Name] = c.Value
	}
	names := s.opts.Names()
	return decodeBundle(values[names.AuthToken], values[names.RefreshToken], values[names.UserInfo]), nil
}

// Write stores all three cookies in the jar.
func (s *JarStore) Write(_ context.Context, b Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	cookies, err := s.opts.bundleCookies(b)
	if err != nil {
		return err
	}
	s.jar.SetCookies(s.site, cookies)
	return nil
}

// Clear removes all three cookies from the jar.
func (s *JarStore) Clear(_ context.Context) error {
	s.jar.SetCookies(s.site, s.opts.clearCookies())
	return nil
}
