package channel

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned when publishing on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// ErrTransportUnavailable is returned by openers whose medium is missing.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Transport moves encoded events between tabs of one origin.
//
// Messages yields payloads published by other tabs. A transport may echo the
// sender's own payloads; the channel discards those by origin id.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	Messages() <-chan []byte
	Close() error
}

// Opener opens a transport for the tab identified by tabID.
type Opener func(ctx context.Context, tabID string) (Transport, error)

// TransportKind reports which transport a channel is using.
type TransportKind int

const (
	TransportNone TransportKind = iota
	TransportPrimary
	TransportFallback
)

func (k TransportKind) String() string {
	switch k {
	case TransportPrimary:
		return "primary"
	case TransportFallback:
		return "fallback"
	default:
		return "none"
	}
}
