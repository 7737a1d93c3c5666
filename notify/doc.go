// Package notify delivers user-visible notifications (toasts) for
// authentication transitions.
//
// A [Kind] names a message ("auth.session_expired"); the [Catalog] holds its
// localized text, level and display duration. [Service] resolves the locale,
// suppresses a kind repeated within the cooldown, and hands the rendered
// [Notification] to an asynchronous [Dispatcher] that forwards it to a
// [Sink].
//
// Three auth kinds are deliberately distinct: auth.logout_success (the user
// logged out in this tab), auth.logout_another_tab (another tab did) and
// auth.session_expired (the server ended the session).
//
// # What this package must NOT do
//
//   - Block the caller on a slow sink. Delivery is asynchronous.
//   - Decide when to notify. The tab client chooses the kind.
package notify
