package authsync

import "errors"

var (
	// ErrInvalidConfig wraps Validate failures at build and load time.
	ErrInvalidConfig = errors.New("invalid authsync config")
	// ErrConfigLoad wraps failures reading a config file or the environment.
	ErrConfigLoad = errors.New("authsync config could not be loaded")
	// ErrBuilderUsed is returned by a second Build on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrMissingIdentity is returned by Build without an identity store or a
	// Redis client to derive one from.
	ErrMissingIdentity = errors.New("identity store is required")
	// ErrMissingRefresher is returned by Build when no refresher is set and
	// the login API cannot refresh.
	ErrMissingRefresher = errors.New("token refresher is required")
	// ErrNoLoginAPI is returned by Login and Logout without a login API.
	ErrNoLoginAPI = errors.New("login API not configured")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("authsync client closed")
	// ErrNotStarted is returned by operations that need Start first.
	ErrNotStarted = errors.New("authsync client not started")
)
