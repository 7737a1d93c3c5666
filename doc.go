// Package authsync keeps the authentication state of many client contexts
// ("tabs") that share one origin consistent with each other.
//
// Each [Client] owns a session store, a cross-tab channel and a token
// lifecycle manager. A login, logout or session expiry in one tab is
// broadcast over the channel and every other tab converges to the same
// state. Tabs reach each other through an in-process bus, Redis Pub/Sub or a
// WebSocket relay, and fall back to a shared key/value storage when the
// primary transport cannot be opened.
//
// # Architecture boundaries
//
// authsync is the orchestration surface. It exposes [Client], [Builder],
// [Config] and [Metrics]. The building blocks live in sub-packages and never
// import authsync:
//
//   - session: the per-tab state machine (loading, authenticated, user id).
//   - channel: event envelope, transports and handler dispatch.
//   - token: expiry inspection and proactive refresh.
//   - identity: durable credentials (cookies, Redis, memory).
//   - storage: the shared origin storage used by the fallback relay.
//   - authapi: the backend login, refresh and logout endpoints.
//   - guard: protected-route matching and redirect debouncing.
//   - notify: localized user-visible notifications.
//
// # Concurrency
//
// Inbound channel events are handled on one goroutine per tab, so a tab
// never applies two events at once. Client methods may be called from any
// goroutine. Callbacks registered with [Client.Subscribe] and
// [Builder.WithRedirect] run synchronously and must not call back into the
// Client.
package authsync
