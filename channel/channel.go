package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const reopenTimeout = 5 * time.Second

// Handler receives events published by other tabs.
type Handler func(Message)

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

// Hooks receive channel lifecycle signals. Every field is optional.
type Hooks struct {
	Published         func(Type)
	Received          func(Type)
	Dropped           func(error)
	HandlerPanic      func()
	FallbackActivated func()
}

// Options configures a Channel.
type Options struct {
	// TabID names this tab on the medium. A random UUID is used when empty.
	TabID    string
	Primary  Opener
	Fallback Opener
	Logger   *slog.Logger
	Hooks    Hooks
	// Now defaults to time.Now.
	Now func() time.Time
}

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Channel is one tab's endpoint on the cross-tab auth medium.
type Channel struct {
	tabID    string
	primary  Opener
	fallback Opener
	log      *slog.Logger
	hooks    Hooks
	now      func() time.Time

	mu        sync.Mutex
	transport Transport
	kind      TransportKind
	stop      chan struct{}
	epoch     uint64
	loop      sync.WaitGroup

	hmu      sync.RWMutex
	handlers []handlerEntry
	nextID   HandlerID
}

// New builds an uninitialized channel.
func New(opts Options) *Channel {
	c := &Channel{
		tabID:    opts.TabID,
		primary:  opts.Primary,
		fallback: opts.Fallback,
		log:      opts.Logger,
		hooks:    opts.Hooks,
		now:      opts.Now,
	}
	if c.tabID == "" {
		c.tabID = uuid.NewString()
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// TabID returns the origin id stamped on outgoing messages.
func (c *Channel) TabID() string {
	return c.tabID
}

// Active reports the transport currently in use.
func (c *Channel) Active() TransportKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// Init opens the primary transport, falling back to the storage relay when
// the primary cannot be opened. It is idempotent and reports whether a
// transport is active.
func (c *Channel) Init(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Channel) openLocked(ctx context.Context) bool {
	if c.transport != nil {
		return true
	}

	var (
		t    Transport
		kind TransportKind
		err  error
	)
	if c.primary != nil {
		t, err = c.primary(ctx, c.tabID)
		if err == nil {
			kind = TransportPrimary
		} else {
			c.log.Warn("auth channel primary transport unavailable", "tab", c.tabID, "err", err)
		}
	}
	if t == nil {
		if c.fallback == nil {
			c.log.Error("auth channel has no usable transport", "tab", c.tabID)
			return false
		}
		t, err = c.fallback(ctx, c.tabID)
		if err != nil {
			c.log.Error("auth channel fallback transport unavailable", "tab", c.tabID, "err", err)
			return false
		}
		kind = TransportFallback
		c.log.Info("auth channel using storage fallback", "tab", c.tabID)
		if c.hooks.FallbackActivated != nil {
			c.hooks.FallbackActivated()
		}
	}

	c.transport = t
	c.kind = kind
	c.stop = make(chan struct{})
	c.loop.Add(1)
	go c.dispatch(t, c.stop, c.epoch)
	return true
}

// PostMessage stamps ev and publishes it to the other tabs. Calls on an
// uninitialized channel are logged and ignored. Publish failures are logged
// and never returned.
func (c *Channel) PostMessage(ctx context.Context, ev Event) {
	if ev == nil {
		c.log.Error("auth channel refused event without type", "tab", c.tabID)
		return
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		c.log.Warn("auth channel post on uninitialized channel", "tab", c.tabID, "type", ev.Type())
		return
	}

	msg := Message{
		Event:     ev,
		Origin:    c.tabID,
		ID:        ulid.Make().String(),
		Timestamp: c.now(),
	}
	payload, err := Encode(msg)
	if err != nil {
		c.log.Error("auth channel encode failed", "tab", c.tabID, "type", ev.Type(), "err", err)
		return
	}
	if err := t.Publish(ctx, payload); err != nil {
		c.log.Error("auth channel publish failed", "tab", c.tabID, "type", ev.Type(), "err", err)
		return
	}
	if c.hooks.Published != nil {
		c.hooks.Published(ev.Type())
	}
}

// AddMessageHandler registers h. Handlers run in registration order on the
// channel's dispatch goroutine.
func (c *Channel) AddMessageHandler(h Handler) HandlerID {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextID++
	c.handlers = append(c.handlers, handlerEntry{id: c.nextID, fn: h})
	return c.nextID
}

// RemoveMessageHandler unregisters the handler with the given id.
func (c *Channel) RemoveMessageHandler(id HandlerID) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for i, e := range c.handlers {
		if e.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return
		}
	}
}

// Cleanup closes the transport and drops every handler. It must not be
// called from inside a handler.
func (c *Channel) Cleanup() {
	c.mu.Lock()
	c.epoch++
	t := c.transport
	stop := c.stop
	c.transport = nil
	c.kind = TransportNone
	c.stop = nil
	c.mu.Unlock()

	if t != nil {
		close(stop)
		if err := t.Close(); err != nil {
			c.log.Debug("auth channel transport close", "tab", c.tabID, "err", err)
		}
		c.loop.Wait()
	}

	c.hmu.Lock()
	c.handlers = nil
	c.hmu.Unlock()
}

func (c *Channel) SendLoginEvent(ctx context.Context, userID string) {
	c.PostMessage(ctx, Login{UserID: userID})
}

func (c *Channel) SendLogoutEvent(ctx context.Context, reason string) {
	if reason == "" {
		reason = ReasonLogout
	}
	c.PostMessage(ctx, Logout{Reason: reason})
}

func (c *Channel) SendSessionExpiredEvent(ctx context.Context) {
	c.PostMessage(ctx, Expired{})
}

func (c *Channel) SendRefreshEvent(ctx context.Context, userID string) {
	c.PostMessage(ctx, Refresh{UserID: userID})
}

func (c *Channel) SendAuthStateChangeEvent(ctx context.Context, isAuthenticated bool, userID, reason string) {
	c.PostMessage(ctx, StateChange{IsAuthenticated: isAuthenticated, UserID: userID, Reason: reason})
}

func (c *Channel) dispatch(t Transport, stop <-chan struct{}, epoch uint64) {
	defer c.loop.Done()
	in := t.Messages()
	for {
		select {
		case <-stop:
			return
		case payload, ok := <-in:
			if !ok {
				c.reopen(t, epoch)
				return
			}
			c.deliver(payload)
		}
	}
}

// reopen replaces a transport whose inbound stream ended without Cleanup.
// The primary is tried again before the fallback. It runs on the dying
// dispatch goroutine so Cleanup waits for the replacement.
func (c *Channel) reopen(lost Transport, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.transport != lost {
		return
	}
	c.log.Warn("auth channel transport lost, reopening", "tab", c.tabID, "kind", c.kind)
	c.transport = nil
	c.kind = TransportNone
	c.stop = nil
	if err := lost.Close(); err != nil {
		c.log.Debug("auth channel transport close", "tab", c.tabID, "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reopenTimeout)
	defer cancel()
	if !c.openLocked(ctx) {
		c.log.Error("auth channel could not reopen a transport", "tab", c.tabID)
	}
}

func (c *Channel) deliver(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		c.log.Warn("auth channel dropped message", "tab", c.tabID, "err", err)
		if c.hooks.Dropped != nil {
			c.hooks.Dropped(err)
		}
		return
	}
	if msg.Origin == c.tabID {
		return
	}
	if c.hooks.Received != nil {
		c.hooks.Received(msg.Event.Type())
	}

	c.hmu.RLock()
	handlers := make([]handlerEntry, len(c.handlers))
	copy(handlers, c.handlers)
	c.hmu.RUnlock()

	for _, h := range handlers {
		c.invoke(h, msg)
	}
}

func (c *Channel) invoke(h handlerEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("auth channel handler panicked",
				"tab", c.tabID,
				"handler", uint64(h.id),
				"type", msg.Event.Type(),
				"panic", fmt.Sprint(r),
			)
			if c.hooks.HandlerPanic != nil {
				c.hooks.HandlerPanic()
			}
		}
	}()
	h.fn(msg)
}
