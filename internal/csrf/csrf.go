// Package csrf protects the login and account forms with the double-submit
// cookie pattern: a random token is set as a cookie and echoed in a hidden
// form field, and a POST is accepted only when both match. A cross-site
// attacker can make the browser send the cookie but cannot read it, so it
// cannot forge the field.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
)

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "csrf_token"

	// FormFieldName is the name of the hidden form field.
	FormFieldName = "csrf_token"

	// TokenLength is the number of random bytes per token.
	TokenLength = 32

	// CookieMaxAge is one hour; forms left open longer are re-issued a token.
	CookieMaxAge = 3600
)

// GenerateToken returns 32 random bytes, base64 URL-encoded (43 characters).
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the two tokens in constant time. Empty never matches.
func ValidateToken(cookieToken, formToken string) bool {
	if cookieToken == "" || formToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

// ValidateRequest checks the cookie against the form field.
// ParseForm (or FormValue) must be safe to call on r.
func ValidateRequest(r *http.Request) bool {
	return ValidateToken(TokenFromRequest(r), r.FormValue(FormFieldName))
}

// SetCookie writes the token cookie. It is not HttpOnly only because nothing
// sensitive depends on hiding it; SameSite=Strict keeps it off cross-site requests.
func SetCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: false,
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TokenFromRequest returns the token cookie value, or "".
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// EnsureToken returns the request's token, issuing a new cookie when there
// is none. Handlers call it when rendering a form.
func EnsureToken(w http.ResponseWriter, r *http.Request, isSecure bool) (string, error) {
	if existing := TokenFromRequest(r); existing != "" {
		return existing, nil
	}
	return RefreshToken(w, isSecure)
}

// RefreshToken always issues a new token. Call it after a successful
// submission so a token is not reused across sessions.
func RefreshToken(w http.ResponseWriter, isSecure bool) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	SetCookie(w, token, isSecure)
	return token, nil
}
