package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token"
)

// Store persists the current credential bundle for one client context.
//
// Read never fails on corrupt values: they are reported as absent. Write
// replaces the bundle wholesale and rejects incomplete bundles. Clear removes
// all three fields.
type Store interface {
	Read(ctx context.Context) (Bundle, error)
	Write(ctx context.Context, b Bundle) error
	Clear(ctx context.Context) error
}

// RequestStoreFunc builds the Store for a single HTTP request.
type RequestStoreFunc func(w http.ResponseWriter, r *http.Request) Store

// Names are the cookie names shared by the edge and client contexts.
type Names struct {
	AuthToken    string
	RefreshToken string
	UserInfo     string
	IsLoggedIn   string
}

// NewNames builds the cookie names for prefix.
func NewNames(prefix string) Names {
	return Names{
		AuthToken:    prefix + "-authToken",
		RefreshToken: prefix + "-refreshToken",
		UserInfo:     prefix + "-userInfo",
		IsLoggedIn:   prefix + "-isLoggedIn",
	}
}

// bundle returns the three bundle cookie names.
func (n Names) bundle() []string {
	return []string{n.AuthToken, n.RefreshToken, n.UserInfo}
}

// CookieOptions configures cookie naming and attributes.
type CookieOptions struct {
	Prefix string
	Domain string
	Secure bool

	// Codec reads token expiries. Nil means the package default clock.
	Codec *token.Codec
}

// Names returns the cookie names for the configured prefix.
func (o CookieOptions) Names() Names {
	return NewNames(o.Prefix)
}

func (o CookieOptions) codec() *token.Codec {
	if o.Codec == nil {
		return token.NewCodec(nil)
	}
	return o.Codec
}

// cookie builds a cookie that expires at expires. A zero or past expiry
// yields a deletion cookie so nothing outlives the token it stores.
func (o CookieOptions) cookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	remaining := o.codec().RemainingLifetime(expires)
	if expires.IsZero() || remaining < time.Second {
		c.Value = ""
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.MaxAge = int(remaining / time.Second)
	c.Expires = expires.UTC()
	return c
}

// expiry returns the exp claim of raw, or the zero time if it cannot be read.
func (o CookieOptions) expiry(raw string) time.Time {
	exp, err := o.codec().ExpiresAt(raw)
	if err != nil {
		return time.Time{}
	}
	return exp
}

// Lifetimes holds the expiries a write applies to each field.
type Lifetimes struct {
	// Access applies to the access token and the user info.
	Access time.Time
	// Refresh applies to the refresh token.
	Refresh time.Time
}

// LifetimesOf reads the expiries for b from its tokens.
func LifetimesOf(codec *token.Codec, b Bundle) Lifetimes {
	if codec == nil {
		codec = token.NewCodec(nil)
	}
	var l Lifetimes
	if exp, err := codec.ExpiresAt(b.AccessToken); err == nil {
		l.Access = exp
	}
	if exp, err := codec.ExpiresAt(b.RefreshToken); err == nil {
		l.Refresh = exp
	}
	return l
}

// encodeValue JSON-encodes v and escapes it for use as a cookie value.
func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(raw)), nil
}

// decodeString reverses encodeValue for a string. ok is false for corrupt input.
func decodeString(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	unescaped, err := url.QueryUnescape(value)
	if err != nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(unescaped), &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// decodeUserInfo reverses encodeValue for user info. ok is false for corrupt input.
func decodeUserInfo(value string) (*UserInfo, bool) {
	if value == "" {
		return nil, false
	}
	unescaped, err := url.QueryUnescape(value)
	if err != nil {
		return nil, false
	}
	var info UserInfo
	if err := json.Unmarshal([]byte(unescaped), &info); err != nil {
		return nil, false
	}
	return &info, true
}

// decodeBundle assembles a bundle from raw stored values, dropping corrupt ones.
func decodeBundle(access, refresh, userInfo string) Bundle {
	var b Bundle
	if v, ok := decodeString(access); ok {
		b.AccessToken = v
	}
	if v, ok := decodeString(refresh); ok {
		b.RefreshToken = v
	}
	if v, ok := decodeUserInfo(userInfo); ok {
		b.UserInfo = v
	}
	return b
}

// bundleCookies builds the three cookies for b with expiry-aligned lifetimes.
func (o CookieOptions) bundleCookies(b Bundle) ([]*http.Cookie, error) {
	names := o.Names()
	l := LifetimesOf(o.codec(), b)

	access, err := encodeValue(b.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := encodeValue(b.RefreshToken)
	if err != nil {
		return nil, err
	}
	info, err := encodeValue(b.UserInfo)
	if err != nil {
		return nil, err
	}

	return []*http.Cookie{
		o.cookie(names.AuthToken, access, l.Access),
		o.cookie(names.RefreshToken, refresh, l.Refresh),
		o.cookie(names.UserInfo, info, l.Access),
	}, nil
}

// clearCookies builds deletion cookies for the bundle fields.
func (o CookieOptions) clearCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, 3)
	for _, name := range o.Names().bundle() {
		cookies = append(cookies, o.cookie(name, "", time.Time{}))
	}
	return cookies
}

// SetLoggedIn writes the isLoggedIn flag cookie, expiring with the refresh token.
func SetLoggedIn(w http.ResponseWriter, opts CookieOptions, refreshToken string) {
	http.SetCookie(w, opts.cookie(opts.Names().IsLoggedIn, "true", opts.expiry(refreshToken)))
}

// ClearLoggedIn deletes the isLoggedIn flag cookie.
func ClearLoggedIn(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, opts.cookie(opts.Names().IsLoggedIn, "", time.Time{}))
}
