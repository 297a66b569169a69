// Package gate decides, per request, whether a page may render or must be
// sent to the login flow. It only looks at the path and whether an auth
// cookie is present; it never validates tokens and holds no state.
package gate

import (
	"net/url"
	"path"
	"strings"
)

const (
	// LoginPath is where unauthenticated requests are sent.
	LoginPath = "/login"

	// DefaultReturnPath is used after login when no usable returnUrl exists.
	DefaultReturnPath = "/dashboard"

	// ReturnURLParam is the query parameter carrying the original destination.
	ReturnURLParam = "returnUrl"
)

// PublicPaths bypass the gate, including anything nested under them.
var PublicPaths = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
}

// Classification is derived from a path; it is never stored.
type Classification int

const (
	Protected Classification = iota
	Public
)

func (c Classification) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// Outcome of a gate decision.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
)

func (o Outcome) String() string {
	if o == Redirect {
		return "redirect"
	}
	return "allow"
}

// Decision is the result of Decide. Location is set only for Redirect.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Classify reports whether p is on the public allow-list. The path is cleaned
// first so dot-segments cannot smuggle a protected page under a public prefix.
func Classify(p string) Classification {
	clean := cleanPath(p)
	for _, pub := range PublicPaths {
		if clean == pub || strings.HasPrefix(clean, pub+"/") {
			return Public
		}
	}
	return Protected
}

// IsPublic is shorthand for Classify(p) == Public.
func IsPublic(p string) bool {
	return Classify(p) == Public
}

// Decide applies the gate:
//  1. public paths are allowed unconditionally
//  2. protected paths without an auth cookie redirect to the login page,
//     carrying the requested path as returnUrl
//  3. everything else is allowed
func Decide(requestPath string, hasCookie bool) Decision {
	if Classify(requestPath) == Public {
		return Decision{Outcome: Allow}
	}
	if !hasCookie {
		return Decision{Outcome: Redirect, Location: LoginURL(requestPath)}
	}
	return Decision{Outcome: Allow}
}

// LoginURL builds /login?returnUrl=<returnURL> with encodeURIComponent
// escaping. An empty returnURL yields the bare login path.
func LoginURL(returnURL string) string {
	if returnURL == "" {
		return LoginPath
	}
	return LoginPath + "?" + ReturnURLParam + "=" + EscapeComponent(returnURL)
}

// EscapeComponent escapes s the way JavaScript's encodeURIComponent does:
// everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded and
// spaces become %20.
func EscapeComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	for enc, raw := range map[string]string{"%21": "!", "%27": "'", "%28": "(", "%29": ")", "%2A": "*"} {
		escaped = strings.ReplaceAll(escaped, enc, raw)
	}
	return escaped
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
