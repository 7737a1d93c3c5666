// Package token keeps a tab's access token fresh.
//
// Manager is a three-state machine: Idle (no timer), Monitoring (a ticker
// checks freshness every CheckInterval) and Refreshing (a refresh call is in
// flight). A token within ExpiryThreshold of its expiry, or one whose expiry
// cannot be read, is refreshed.
//
// Refresh failures are classified. An error wrapping ErrRejected is hard:
// the identity is cleared, the manager goes Idle and OnRejected fires once.
// Every other error is soft: the manager stays in Monitoring and retries on
// the next tick, escalating to hard after MaxSoftFailures consecutive soft
// failures when that limit is set.
//
// A refresh still in flight when Stop runs is discarded: tokens are written
// only while the generation that started the check is current. Revoke also
// clears a write that raced the session ending elsewhere.
//
// # What this package must NOT do
//
//   - It must not verify token signatures. Expiry is read from the
//     unverified payload; the server remains the authority.
//   - It must not broadcast or notify. Callers react through OnRefreshed and
//     OnRejected.
package token
