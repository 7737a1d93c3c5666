package session

import (
	"context"
	"log/slog"
	"sync"
)

// State is an immutable snapshot of a tab's authentication state.
type State struct {
	IsAuthenticated bool
	UserID          string
	Loading         bool
}

// Unauthenticated is the settled signed-out state.
var Unauthenticated = State{}

// Authenticated returns the settled signed-in state for userID. An empty id
// yields Unauthenticated.
func Authenticated(userID string) State {
	if userID == "" {
		return Unauthenticated
	}
	return State{IsAuthenticated: true, UserID: userID}
}

func normalize(s State) State {
	if !s.IsAuthenticated || s.UserID == "" {
		return State{Loading: s.Loading}
	}
	return s
}

// UserIDSource reads the durable user id.
type UserIDSource interface {
	UserID(ctx context.Context) (string, bool, error)
}

type listener struct {
	id uint64
	fn func(State)
}

// Store is the session state of one tab. It starts Loading and
// unauthenticated.
type Store struct {
	source UserIDSource
	log    *slog.Logger

	mu    sync.RWMutex
	state State

	// notifyMu serializes listener delivery so listeners observe
	// transitions in order.
	notifyMu  sync.Mutex
	lmu       sync.RWMutex
	listeners []listener
	nextID    uint64
}

// NewStore returns a Store reading identity from source.
func NewStore(source UserIDSource, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{source: source, log: log, state: State{Loading: true}}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CheckAuth re-derives the state from the durable identity. A non-empty user
// id means authenticated; absence or any error means unauthenticated.
func (s *Store) CheckAuth(ctx context.Context) State {
	s.transition(func(cur State) State {
		cur.Loading = true
		return cur
	})

	next := Unauthenticated
	if s.source != nil {
		uid, ok, err := s.source.UserID(ctx)
		switch {
		case err != nil:
			s.log.Warn("session check failed, treating as signed out", "err", err)
		case ok && uid != "":
			next = Authenticated(uid)
		}
	}
	return s.set(next)
}

// SetAuthenticated marks userID as signed in. An empty id resets.
func (s *Store) SetAuthenticated(userID string) State {
	return s.set(Authenticated(userID))
}

// Reset clears the state unconditionally.
func (s *Store) Reset() State {
	return s.set(Unauthenticated)
}

// Apply replaces the state wholesale. It is used for inbound cross-tab
// events, each of which is treated as the latest truth.
func (s *Store) Apply(next State) State {
	next.Loading = false
	return s.set(next)
}

func (s *Store) set(next State) State {
	return s.transition(func(State) State { return next })
}

func (s *Store) transition(fn func(State) State) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := normalize(fn(s.state))
	s.state = next
	s.mu.Unlock()

	s.lmu.RLock()
	ls := make([]listener, len(s.listeners))
	copy(ls, s.listeners)
	s.lmu.RUnlock()

	for _, l := range ls {
		l.fn(next)
	}
	return next
}

// Subscribe registers fn to receive every new state. The returned func
// unregisters it. fn must not call back into the Store.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
