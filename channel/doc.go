// Package channel implements the cross-tab authentication channel: every tab
// client publishes login, logout, expiry, refresh and state-change events and
// every other tab client of the same origin receives them.
//
// # Transports
//
// A primary transport (in-process [Bus], Redis Pub/Sub, or a WebSocket
// [Relay]) is tried first. When it cannot be opened the channel falls back to
// the storage transport, which writes the latest event as JSON under the
// "auth_last_event" key and relies on the storage change asymmetry: other
// tabs are notified, the writer is not.
//
// # Delivery
//
// Delivery is best effort and at-least-once. There is no ordering guarantee
// across tabs; receivers treat each event as the latest truth. Handlers run
// sequentially, in registration order, on one goroutine per channel, and a
// panicking handler does not prevent delivery to the others.
package channel
