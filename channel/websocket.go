package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	relayWriteTimeout = 5 * time.Second
	relaySendBuffer   = 64
)

// Relay is a WebSocket broadcast medium. Each connected tab receives every
// message published by the other tabs; senders are never echoed.
type Relay struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[*relayPeer]struct{}

	// OriginPatterns is passed to websocket.Accept.
	OriginPatterns []string
}

type relayPeer struct {
	send chan []byte
}

// NewRelay builds a relay. A nil logger discards output.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Relay{log: log, peers: make(map[*relayPeer]struct{})}
}

// Peers reports the number of connected tabs.
func (r *Relay) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.OriginPatterns,
	})
	if err != nil {
		r.log.Info("relay.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	peer := &relayPeer{send: make(chan []byte, relaySendBuffer)}
	r.mu.Lock()
	r.peers[peer] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.peers, peer)
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-peer.send:
				wctx, wcancel := context.WithTimeout(ctx, relayWriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, msg)
				wcancel()
				if err != nil {
					r.log.Info("relay.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					cancel()
					return
				}
			}
		}
	}()

	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				r.log.Debug("relay.read.fail", "err", err)
			}
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}
		r.fanout(peer, data)
	}
}

func (r *Relay) fanout(from *relayPeer, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p := range r.peers {
		if p == from {
			continue
		}
		select {
		case p.send <- data:
		default:
			r.log.Warn("relay.peer.slow", "dropped_bytes", len(data))
		}
	}
}

// RelayOpener returns an Opener dialing the relay at url (ws:// or wss://).
func RelayOpener(url string, opts *websocket.DialOptions) Opener {
	return func(ctx context.Context, _ string) (Transport, error) {
		conn, resp, err := websocket.Dial(ctx, url, opts)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		readCtx, cancel := context.WithCancel(context.Background())
		t := &relayTransport{
			conn:   conn,
			cancel: cancel,
			ch:     make(chan []byte, defaultBusBuffer),
			done:   make(chan struct{}),
		}
		go t.run(readCtx)
		return t, nil
	}
}

type relayTransport struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (t *relayTransport) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.ch)
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case t.ch <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (t *relayTransport) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	wctx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	if err := t.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (t *relayTransport) Messages() <-chan []byte {
	return t.ch
}

func (t *relayTransport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.conn.Close(websocket.StatusNormalClosure, "bye")
		t.cancel()
		<-t.done
	})
	return err
}
