package channel

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/William-g7/Airnest-sub001/storage"
)

const waitFor = 2 * time.Second

type recorder struct {
	ch chan Message
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Message, 16)}
}

func (r *recorder) handle(m Message) {
	r.ch <- m
}

func (r *recorder) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for message")
		return Message{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-r.ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func failingOpener(context.Context, string) (Transport, error) {
	return nil, ErrTransportUnavailable
}

func openPair(t *testing.T, opener Opener) (*Channel, *Channel) {
	t.Helper()
	ctx := context.Background()
	a := New(Options{TabID: "tab-a", Primary: opener})
	b := New(Options{TabID: "tab-b", Primary: opener})
	if !a.Init(ctx) || !b.Init(ctx) {
		t.Fatalf("init failed")
	}
	return a, b
}

func TestBusDeliversToOtherTabsOnly(t *testing.T) {
	bus := NewBus(8)
	a, b := openPair(t, bus.Opener())
	defer a.Cleanup()
	defer b.Cleanup()

	ra, rb := newRecorder(), newRecorder()
	a.AddMessageHandler(ra.handle)
	b.AddMessageHandler(rb.handle)

	a.SendLoginEvent(context.Background(), "u1")

	m := rb.next(t)
	login, ok := m.Event.(Login)
	if !ok || login.UserID != "u1" {
		t.Fatalf("unexpected event %#v", m.Event)
	}
	if m.Origin != "tab-a" || m.ID == "" || m.Timestamp.IsZero() {
		t.Fatalf("message not stamped: %+v", m)
	}
	ra.none(t)
}

func TestPostBeforeInitIsNoop(t *testing.T) {
	bus := NewBus(8)
	a := New(Options{TabID: "tab-a", Primary: bus.Opener()})
	b := New(Options{TabID: "tab-b", Primary: bus.Opener()})
	if !b.Init(context.Background()) {
		t.Fatalf("init failed")
	}
	defer b.Cleanup()

	rb := newRecorder()
	b.AddMessageHandler(rb.handle)

	a.SendLogoutEvent(context.Background(), "")
	rb.none(t)
	if a.Active() != TransportNone {
		t.Fatalf("expected no transport, got %v", a.Active())
	}
}

func TestInitIsIdempotent(t *testing.T) {
	bus := NewBus(8)
	a := New(Options{Primary: bus.Opener()})
	defer a.Cleanup()

	if !a.Init(context.Background()) || !a.Init(context.Background()) {
		t.Fatalf("init failed")
	}
	if bus.Members() != 1 {
		t.Fatalf("expected one member after repeated init, got %d", bus.Members())
	}
	if a.Active() != TransportPrimary {
		t.Fatalf("expected primary transport, got %v", a.Active())
	}
}

func TestInitFallsBackToStorage(t *testing.T) {
	mem := storage.NewMemory(8)
	defer mem.Close()

	var activated atomic.Int32
	hooks := Hooks{FallbackActivated: func() { activated.Add(1) }}
	a := New(Options{TabID: "tab-a", Primary: failingOpener, Fallback: StorageOpener(mem), Hooks: hooks})
	b := New(Options{TabID: "tab-b", Primary: failingOpener, Fallback: StorageOpener(mem), Hooks: hooks})
	ctx := context.Background()
	if !a.Init(ctx) || !b.Init(ctx) {
		t.Fatalf("init failed")
	}
	defer a.Cleanup()
	defer b.Cleanup()

	if a.Active() != TransportFallback || activated.Load() != 2 {
		t.Fatalf("expected fallback on both tabs, got %v / %d", a.Active(), activated.Load())
	}

	ra, rb := newRecorder(), newRecorder()
	a.AddMessageHandler(ra.handle)
	b.AddMessageHandler(rb.handle)

	a.SendSessionExpiredEvent(ctx)

	if _, ok := rb.next(t).Event.(Expired); !ok {
		t.Fatalf("expected expired event on other tab")
	}
	ra.none(t)

	raw, ok, err := mem.Get(ctx, LastEventKey)
	if err != nil || !ok || !strings.Contains(raw, `"AUTH_EXPIRED"`) {
		t.Fatalf("expected relay key to hold the last event, got %q %v %v", raw, ok, err)
	}
}

func TestInitWithoutAnyTransport(t *testing.T) {
	c := New(Options{Primary: failingOpener})
	if c.Init(context.Background()) {
		t.Fatalf("expected init to report no transport")
	}
	c.SendLoginEvent(context.Background(), "u1")
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	bus := NewBus(8)
	a, b := openPair(t, bus.Opener())
	defer a.Cleanup()
	defer b.Cleanup()

	var panics atomic.Int32
	b.hooks.HandlerPanic = func() { panics.Add(1) }

	var mu sync.Mutex
	var order []string
	b.AddMessageHandler(func(Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("boom")
	})
	rb := newRecorder()
	b.AddMessageHandler(func(m Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		rb.handle(m)
	})

	a.SendRefreshEvent(context.Background(), "u1")
	rb.next(t)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected handler order %v", order)
	}
	if panics.Load() != 1 {
		t.Fatalf("expected one recorded panic, got %d", panics.Load())
	}
}

func TestRemoveMessageHandler(t *testing.T) {
	bus := NewBus(8)
	a, b := openPair(t, bus.Opener())
	defer a.Cleanup()
	defer b.Cleanup()

	removed, kept := newRecorder(), newRecorder()
	id := b.AddMessageHandler(removed.handle)
	b.AddMessageHandler(kept.handle)
	b.RemoveMessageHandler(id)

	a.SendAuthStateChangeEvent(context.Background(), false, "", "sync")
	kept.next(t)
	removed.none(t)
}

func TestCleanupStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	a, b := openPair(t, bus.Opener())
	defer a.Cleanup()

	rb := newRecorder()
	b.AddMessageHandler(rb.handle)
	b.Cleanup()

	a.SendLoginEvent(context.Background(), "u1")
	rb.none(t)

	if b.Active() != TransportNone || bus.Members() != 1 {
		t.Fatalf("expected cleaned tab to leave the bus, members=%d", bus.Members())
	}

	b.SendLoginEvent(context.Background(), "u2")
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	bus := NewBus(8)
	var dropped atomic.Int32
	raw, err := bus.Opener()(context.Background(), "raw")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer raw.Close()

	b := New(Options{TabID: "tab-b", Primary: bus.Opener(), Hooks: Hooks{Dropped: func(error) { dropped.Add(1) }}})
	if !b.Init(context.Background()) {
		t.Fatalf("init failed")
	}
	defer b.Cleanup()
	rb := newRecorder()
	b.AddMessageHandler(rb.handle)

	if err := raw.Publish(context.Background(), []byte(`{"type":"AUTH_UNKNOWN","timestamp":1}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	rb.none(t)
	if dropped.Load() != 1 {
		t.Fatalf("expected one dropped payload, got %d", dropped.Load())
	}
}

func TestRedisTransportDropsSelfEcho(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	a, b := openPair(t, RedisOpener(rdb, "test"))
	defer a.Cleanup()
	defer b.Cleanup()

	ra, rb := newRecorder(), newRecorder()
	a.AddMessageHandler(ra.handle)
	b.AddMessageHandler(rb.handle)

	a.SendLoginEvent(context.Background(), "u1")
	if m := rb.next(t); m.Origin != "tab-a" {
		t.Fatalf("unexpected origin %q", m.Origin)
	}
	ra.none(t)

	if got := mr.PubSubNumSub("test:auth_sync_channel")["test:auth_sync_channel"]; got != 2 {
		t.Fatalf("expected two subscribers, got %d", got)
	}
}

func TestRedisOpenerFailsWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := RedisOpener(rdb, "test")(ctx, "tab-a"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestRelayTransport(t *testing.T) {
	relay := NewRelay(nil)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a, b := openPair(t, RelayOpener(url, nil))
	defer a.Cleanup()
	defer b.Cleanup()

	deadline := time.Now().Add(waitFor)
	for relay.Peers() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ra, rb := newRecorder(), newRecorder()
	a.AddMessageHandler(ra.handle)
	b.AddMessageHandler(rb.handle)

	a.SendLogoutEvent(context.Background(), LocalAction(ReasonLogout))
	m := rb.next(t)
	if lo, ok := m.Event.(Logout); !ok || BaseReason(lo.Reason) != ReasonLogout {
		t.Fatalf("unexpected event %#v", m.Event)
	}
	ra.none(t)
}

type droppingTransport struct {
	ch     chan []byte
	once   sync.Once
	closed atomic.Bool
}

func (t *droppingTransport) Publish(context.Context, []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return nil
}

func (t *droppingTransport) Messages() <-chan []byte { return t.ch }

func (t *droppingTransport) drop() { t.once.Do(func() { close(t.ch) }) }

func (t *droppingTransport) Close() error {
	t.closed.Store(true)
	t.drop()
	return nil
}

func TestLostPrimaryReopensOnFallback(t *testing.T) {
	mem := storage.NewMemory(8)
	defer mem.Close()

	first := &droppingTransport{ch: make(chan []byte)}
	var opens atomic.Int32
	primary := func(context.Context, string) (Transport, error) {
		if opens.Add(1) == 1 {
			return first, nil
		}
		return nil, ErrTransportUnavailable
	}
	var activated atomic.Int32
	a := New(Options{
		TabID:    "tab-a",
		Primary:  primary,
		Fallback: StorageOpener(mem),
		Hooks:    Hooks{FallbackActivated: func() { activated.Add(1) }},
	})
	b := New(Options{TabID: "tab-b", Primary: failingOpener, Fallback: StorageOpener(mem)})
	ctx := context.Background()
	if !a.Init(ctx) || !b.Init(ctx) {
		t.Fatalf("init failed")
	}
	defer a.Cleanup()
	defer b.Cleanup()
	if a.Active() != TransportPrimary {
		t.Fatalf("expected primary, got %v", a.Active())
	}

	first.drop()
	deadline := time.Now().Add(waitFor)
	for a.Active() != TransportFallback && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.Active() != TransportFallback {
		t.Fatalf("expected fallback after the primary dropped, got %v", a.Active())
	}
	if opens.Load() != 2 || activated.Load() != 1 {
		t.Fatalf("expected one primary retry and one fallback, got %d / %d", opens.Load(), activated.Load())
	}
	if !first.closed.Load() {
		t.Fatalf("lost transport was not closed")
	}

	rb := newRecorder()
	b.AddMessageHandler(rb.handle)
	a.SendLoginEvent(ctx, "u1")
	if lo, ok := rb.next(t).Event.(Login); !ok || lo.UserID != "u1" {
		t.Fatalf("expected login over the fallback")
	}
}

func TestLostPrimaryReopensPrimary(t *testing.T) {
	bus := NewBus(8)
	first := &droppingTransport{ch: make(chan []byte)}
	var opens atomic.Int32
	primary := func(ctx context.Context, tabID string) (Transport, error) {
		if opens.Add(1) == 1 {
			return first, nil
		}
		return bus.Opener()(ctx, tabID)
	}
	a := New(Options{TabID: "tab-a", Primary: primary})
	b := New(Options{TabID: "tab-b", Primary: bus.Opener()})
	ctx := context.Background()
	if !a.Init(ctx) || !b.Init(ctx) {
		t.Fatalf("init failed")
	}
	defer a.Cleanup()
	defer b.Cleanup()

	first.drop()
	deadline := time.Now().Add(waitFor)
	for opens.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ra := newRecorder()
	a.AddMessageHandler(ra.handle)
	deadline = time.Now().Add(waitFor)
	for a.Active() != TransportPrimary && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	b.SendRefreshEvent(ctx, "u1")
	if _, ok := ra.next(t).Event.(Refresh); !ok {
		t.Fatalf("expected refresh on the reopened primary")
	}
}

func TestCleanupAfterLostTransport(t *testing.T) {
	first := &droppingTransport{ch: make(chan []byte)}
	a := New(Options{TabID: "tab-a", Primary: func(context.Context, string) (Transport, error) {
		return first, nil
	}})
	if !a.Init(context.Background()) {
		t.Fatalf("init failed")
	}
	a.Cleanup()
	first.drop()
	time.Sleep(20 * time.Millisecond)
	if a.Active() != TransportNone {
		t.Fatalf("cleanup must not be undone by a late drop, got %v", a.Active())
	}
}
