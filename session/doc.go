// Package session holds one tab's authoritative authentication state.
//
// The state is the pair (IsAuthenticated, UserID) plus a Loading flag set
// while a verification is in flight. The pair always changes together: a
// Store never exposes an authenticated state without a user id, nor a user id
// on an unauthenticated state.
//
// # Architecture boundaries
//
// The Store reads the durable identity through [UserIDSource] and nothing
// else. It does not broadcast, refresh tokens or notify users; the tab
// client reacts to transitions through [Store.Subscribe].
//
// # What this package must NOT do
//
//   - Return errors from CheckAuth. Any failure degrades to unauthenticated.
//   - Call listeners while holding the state lock.
package session
