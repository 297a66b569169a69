// Package guard reconciles a page with the session store: a protected page
// waits while the store is loading, proceeds when someone is signed in, and
// is sent to the login page otherwise.
//
// Decisions (Evaluate, LoginTarget) are pure functions of a snapshot. The
// imperative parts (Await, Watch, WatchLogin) only observe the store and
// call a Navigator; they never mutate the store.
package guard

import (
	"context"
	"net/url"
	"strings"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/gate"
	"github.com/DukeRupert/posadmin/internal/metrics"
)

// Action is what a protected page should do for a given snapshot.
type Action int

const (
	Wait Action = iota
	Proceed
	Redirect
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Proceed:
		return "proceed"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Observable is the read side of auth.Store.
type Observable interface {
	Snapshot() auth.Snapshot
	Subscribe() (<-chan auth.Snapshot, func())
}

// Navigator performs a navigation. Implementations must not call the stop
// function of the watcher that invoked them.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// Evaluate maps a snapshot to an action.
func Evaluate(s auth.Snapshot) Action {
	switch {
	case s.IsLoading():
		return Wait
	case s.User == nil:
		return Redirect
	default:
		return Proceed
	}
}

// RedirectTarget is the login URL that returns to currentPath.
func RedirectTarget(currentPath string) string {
	return gate.LoginURL(currentPath)
}

// Await blocks until the store is no longer loading and reports the action.
// For Redirect the login URL is returned as well. If the store is disposed
// first, Await fails with EGONE; if ctx ends first, with ctx.Err().
func Await(ctx context.Context, obs Observable, currentPath string) (Action, string, error) {
	ch, cancel := obs.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return Wait, "", ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return Wait, "", domain.Gone("guard.await", "session store has been disposed")
			}
			switch Evaluate(snap) {
			case Proceed:
				return Proceed, "", nil
			case Redirect:
				metrics.GuardRedirects.WithLabelValues("protected").Inc()
				return Redirect, RedirectTarget(currentPath), nil
			}
		}
	}
}

// Watch guards a long-lived page. It re-evaluates on every store transition
// and navigates to the login page exactly once, the first time the decision
// is Redirect (a logout while mounted included). Afterwards it stops.
//
// The returned stop func unmounts the guard; once it returns, nav is never
// called. Cancelling ctx has the same effect.
func Watch(ctx context.Context, obs Observable, currentPath string, nav Navigator) (stop func()) {
	return watch(ctx, obs, func(snap auth.Snapshot) (string, bool) {
		if Evaluate(snap) != Redirect {
			return "", false
		}
		metrics.GuardRedirects.WithLabelValues("protected").Inc()
		return RedirectTarget(currentPath), true
	}, nav)
}

// =============================================================================
// Login companion
// =============================================================================

// LoginTarget returns where to go after a successful login. It only reports
// true for a settled snapshot that holds a user, so the navigation can never
// race ahead of the store committing the session. Unsafe or public return
// URLs fall back to the dashboard.
func LoginTarget(s auth.Snapshot, returnURL string) (string, bool) {
	if s.IsLoading() || s.User == nil {
		return "", false
	}
	return SafeReturnURL(returnURL), true
}

// WatchLogin navigates once to LoginTarget after a user signs in. A session
// that already existed when the watch began does not trigger it.
func WatchLogin(ctx context.Context, obs Observable, returnURL string, nav Navigator) (stop func()) {
	baseline := obs.Snapshot().Version
	return watch(ctx, obs, func(snap auth.Snapshot) (string, bool) {
		if snap.Version <= baseline {
			return "", false
		}
		target, ok := LoginTarget(snap, returnURL)
		if ok {
			metrics.GuardRedirects.WithLabelValues("login").Inc()
		}
		return target, ok
	}, nav)
}

// SafeReturnURL returns raw when it is a local path that is not itself
// public, and gate.DefaultReturnPath otherwise. Sending a signed-in user back
// to /login would only bounce them again.
func SafeReturnURL(raw string) string {
	if raw == "" || !isSafeRedirectURL(raw) {
		return gate.DefaultReturnPath
	}
	parsed, err := url.Parse(raw)
	if err != nil || gate.IsPublic(parsed.Path) {
		return gate.DefaultReturnPath
	}
	return raw
}

func isSafeRedirectURL(rawURL string) bool {
	// Must be a path, not protocol-relative. Browsers treat a backslash like
	// a slash, so "/\host" is protocol-relative too.
	if !strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "//") || strings.Contains(rawURL, "\\") {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == ""
}

// =============================================================================
// Watcher loop
// =============================================================================

// watch subscribes to obs and calls nav with the first target decide accepts.
func watch(ctx context.Context, obs Observable, decide func(auth.Snapshot) (string, bool), nav Navigator) func() {
	ctx, cancel := context.WithCancel(ctx)
	ch, unsubscribe := obs.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-ch:
				if !ok {
					return
				}
				target, fire := decide(snap)
				if !fire {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				nav.Navigate(target)
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
