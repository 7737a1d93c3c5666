// Package guard decides when an unauthenticated tab must leave a protected
// route, and makes sure it leaves only once.
//
// Matcher recognizes protected paths with or without a locale prefix.
// Redirector debounces the redirect: no decision is made while the session
// is still loading, at most one redirect fires per MinInterval, and triggers
// that arrive while a redirect is in flight are ignored.
package guard
