// Package session defines the auth cookie contract shared by the route gate
// (which only checks presence) and the session store (which persists and
// clears the token). Neither side interprets the token's encoding.
package session

import (
	"net/http"
	"time"
)

const (
	// CookieName is the canonical name of the cookie that stores the session token.
	CookieName = "auth_token"

	// LegacyCookieName is accepted on read for clients that logged in before
	// the rename. It is never written and is expired on logout.
	LegacyCookieName = "token"

	// CookiePath ensures the cookie is sent with all requests.
	CookiePath = "/"

	// CookieMaxAge is used when the backend does not report an expiry (7 days).
	CookieMaxAge = 7 * 24 * 60 * 60
)

// CookieNames lists accepted cookie names in lookup order.
var CookieNames = []string{CookieName, LegacyCookieName}

// TokenFromRequest returns the first non-empty auth cookie on the request.
func TokenFromRequest(r *http.Request) (string, bool) {
	for _, name := range CookieNames {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			continue
		}
		return c.Value, true
	}
	return "", false
}

// HasAuthCookie reports whether any accepted auth cookie is present.
func HasAuthCookie(r *http.Request) bool {
	_, ok := TokenFromRequest(r)
	return ok
}

// SetCookie writes the canonical auth cookie.
//
// Cookie Settings:
// - HttpOnly: true - Prevents JavaScript access
// - Secure: configurable - true in production (HTTPS only)
// - SameSite: Lax - Allows top-level navigation from the login redirect
// - MaxAge: derived from expiresAt, or CookieMaxAge when unknown
func SetCookie(w http.ResponseWriter, token string, expiresAt *time.Time, isSecure bool) {
	maxAge := CookieMaxAge
	if expiresAt != nil {
		maxAge = int(time.Until(*expiresAt).Seconds())
		if maxAge < 1 {
			maxAge = 1
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     CookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookies expires both the canonical and the legacy cookie.
func ClearCookies(w http.ResponseWriter, isSecure bool) {
	for _, name := range CookieNames {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     CookiePath,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   isSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
