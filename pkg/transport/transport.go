// Package transport moves encoded frames between nodes. The in-memory Hub
// models radio contact for simulations and tests; QUIC carries frames between
// real processes.
package transport

import (
	"context"
	"errors"
)

var (
	ErrUnreachable = errors.New("transport: peer unreachable")
	ErrClosed      = errors.New("transport: closed")
)

// Handler receives one frame. from is the transport-level sender address.
type Handler func(from string, data []byte)

// FailureHandler learns that a frame accepted by Send never reached peer.
type FailureHandler func(peer string, err error)

// Reporter is implemented by transports whose Send returns before delivery.
type Reporter interface {
	OnSendFailure(h FailureHandler)
}

type Transport interface {
	// Send delivers data to a single peer.
	Send(ctx context.Context, peer string, data []byte) error
	// Broadcast delivers data to every peer currently in range and returns
	// how many were reached.
	Broadcast(ctx context.Context, data []byte) (int, error)
	// OnReceive installs the handler for inbound frames.
	OnReceive(h Handler)
	Close() error
}
