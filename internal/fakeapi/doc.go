// Package fakeapi is an in-process authentication backend used by tests and
// the soak tool. It issues signed JWT access and refresh tokens, rotates
// refresh tokens on every use and sets the session cookies the identity
// package reads.
//
// Passwords are kept only as argon2id hashes. When a Redis client is given in
// Options.Throttle, failed logins are counted per email in fixed windows and
// answered with 429 once the budget is spent.
package fakeapi
