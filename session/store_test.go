package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeSource struct {
	uid string
	err error
}

func (f fakeSource) UserID(context.Context) (string, bool, error) {
	return f.uid, f.uid != "", f.err
}

func TestStoreStartsLoading(t *testing.T) {
	s := NewStore(nil, nil)
	if st := s.Snapshot(); !st.Loading || st.IsAuthenticated || st.UserID != "" {
		t.Fatalf("unexpected initial state %+v", st)
	}
}

func TestCheckAuthResolvesFromSource(t *testing.T) {
	s := NewStore(fakeSource{uid: "u1"}, nil)
	st := s.CheckAuth(context.Background())
	if !st.IsAuthenticated || st.UserID != "u1" || st.Loading {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestCheckAuthIsIdempotent(t *testing.T) {
	s := NewStore(fakeSource{uid: "u1"}, nil)
	first := s.CheckAuth(context.Background())
	second := s.CheckAuth(context.Background())
	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestCheckAuthDegradesOnError(t *testing.T) {
	s := NewStore(fakeSource{err: errors.New("cookie read failed")}, nil)
	s.SetAuthenticated("u1")

	st := s.CheckAuth(context.Background())
	if st.IsAuthenticated || st.UserID != "" || st.Loading {
		t.Fatalf("expected settled unauthenticated state, got %+v", st)
	}
}

func TestSetAuthenticatedEmptyResets(t *testing.T) {
	s := NewStore(nil, nil)
	s.SetAuthenticated("u1")
	if st := s.SetAuthenticated(""); st != Unauthenticated {
		t.Fatalf("expected reset, got %+v", st)
	}
}

func TestApplyNormalizesPair(t *testing.T) {
	s := NewStore(nil, nil)
	if st := s.Apply(State{IsAuthenticated: true}); st.IsAuthenticated {
		t.Fatalf("authenticated without user id must not be exposed: %+v", st)
	}
	if st := s.Apply(State{UserID: "u1"}); st.UserID != "" {
		t.Fatalf("user id without authentication must not be exposed: %+v", st)
	}
	if st := s.Apply(State{IsAuthenticated: true, UserID: "u2", Loading: true}); st != Authenticated("u2") {
		t.Fatalf("unexpected applied state %+v", st)
	}
}

func TestSubscribeSeesTransitionsInOrder(t *testing.T) {
	s := NewStore(fakeSource{uid: "u1"}, nil)

	var mu sync.Mutex
	var seen []State
	cancel := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	s.CheckAuth(context.Background())
	s.Reset()
	cancel()
	s.SetAuthenticated("u3")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected three transitions, got %d: %+v", len(seen), seen)
	}
	if !seen[0].Loading || seen[1] != Authenticated("u1") || seen[2] != Unauthenticated {
		t.Fatalf("unexpected transitions %+v", seen)
	}
}

func TestSnapshotInvariantUnderConcurrency(t *testing.T) {
	s := NewStore(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.SetAuthenticated("u1")
				s.Reset()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				st := s.Snapshot()
				if st.IsAuthenticated != (st.UserID != "") {
					t.Errorf("torn state %+v", st)
					return
				}
			}
		}()
	}
	wg.Wait()
}
