package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWriterDoesNotObserveOwnWrite(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self, err := m.Watch(ctx, "tab-a", "auth_last_event")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	other, err := m.Watch(ctx, "tab-b", "auth_last_event")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if err := m.Set(ctx, "tab-a", "auth_last_event", `{"type":"AUTH_LOGIN"}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	select {
	case c := <-other:
		if c.Writer != "tab-a" || c.Value != `{"type":"AUTH_LOGIN"}` {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("other tab did not observe write")
	}

	select {
	case c := <-self:
		t.Fatalf("writer observed its own write: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryWatchFiltersByKey(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Watch(ctx, "tab-b", "app_user_id")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	_ = m.Set(ctx, "tab-a", "other_key", "x")
	_ = m.Set(ctx, "tab-a", "app_user_id", "u1")

	c := <-ch
	if c.Key != "app_user_id" || c.Value != "u1" {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestMemoryRemoveNotifiesOnlyWhenPresent(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := m.Watch(ctx, "tab-b", "k")
	if err := m.Remove(ctx, "tab-a", "k"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	_ = m.Set(ctx, "tab-a", "k", "v")
	_ = m.Remove(ctx, "tab-a", "k")

	first := <-ch
	second := <-ch
	if first.Removed || !second.Removed {
		t.Fatalf("unexpected sequence %+v %+v", first, second)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected key to be removed")
	}
}

func TestMemoryWatchClosesOnCancel(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := m.Watch(ctx, "tab-b", "k")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestMemoryDropsWhenWatcherBufferFull(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = m.Watch(ctx, "tab-b", "k")
	_ = m.Set(ctx, "tab-a", "k", "1")
	_ = m.Set(ctx, "tab-a", "k", "2")

	if got := m.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped change, got %d", got)
	}
	v, _, _ := m.Get(ctx, "k")
	if v != "2" {
		t.Fatalf("expected latest value 2, got %q", v)
	}
}

func TestMemoryClosedRejectsOperations(t *testing.T) {
	m := NewMemory(1)
	_ = m.Close()
	if err := m.Set(context.Background(), "a", "k", "v"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.Watch(context.Background(), "a", "k"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
