// Package identity holds the durable identity of a signed-in user: the user
// id plus the access and refresh tokens.
//
// The canonical store is the server-set cookie triple (session_userid,
// session_access_token, session_refresh_token). CookieStore keeps them in an
// http.CookieJar the way a browser would; RedisStore keeps the same values in
// Redis so that every tab client of an origin shares them. LocalCache mirrors
// the user id into shared origin storage as a fallback read path.
//
// # What this package must NOT do
//
//   - It must not validate tokens. It only stores and returns them.
//   - It must not treat a cache hit as authoritative when the primary store
//     answered. The cache is read only when the primary read fails.
package identity
