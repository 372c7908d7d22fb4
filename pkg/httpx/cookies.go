package httpx

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// CookieWriter sets and clears the token cookies.
type CookieWriter struct {
	Secure bool
	Path   string
}

func (c CookieWriter) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// SetTokens writes both token cookies, each expiring with its token.
func (c CookieWriter) SetTokens(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, access, accessExp))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, refresh, refreshExp))
}

// Clear expires both token cookies.
func (c CookieWriter) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		ck := c.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func (c CookieWriter) cookie(name, value string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.path(),
		Expires:  exp,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// CookieValue returns the named cookie's value or "".
func CookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
