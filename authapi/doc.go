// Package authapi is the client for the backend authentication endpoints:
// CSRF bootstrap, login, token refresh and logout.
//
// Every unsafe request carries the X-CSRFToken header read from the csrftoken
// cookie and an Origin header. Responses are classified into the sentinel
// errors of this package so callers can tell invalid credentials from an
// unverified email, and a rejected refresh (token.ErrRejected) from a
// transient failure (ErrTransient).
//
// # What this package must NOT do
//
//   - Persist identity. Callers decide where tokens live.
//   - Retry. Retry policy belongs to the token manager.
package authapi
