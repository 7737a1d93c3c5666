// Package middleware exposes the HTTP side of route protection.
//
// # Guards
//
//   - [Protect] redirects requests for protected pages to the login page
//     when the session_userid cookie is missing, and injects the user id
//     into the request context otherwise.
//
// Path matching is delegated to guard.Matcher, so the same locale-aware
// prefixes protect both the tab client and the HTTP layer.
//
// # What this package must NOT do
//
//   - Validate tokens. Presence of the identity cookie is the whole check;
//     the backend API remains the authority.
//   - Touch Redis or any other store.
package middleware
