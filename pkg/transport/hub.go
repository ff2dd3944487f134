package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
)

// Hub is an in-memory medium. Two endpoints can exchange frames only while
// they are linked; delivery is scheduled on the hub's clock after the
// configured latency, so a send never re-enters the receiver synchronously.
type Hub struct {
	clock   sched.Clock
	latency time.Duration

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	links     map[string]map[string]bool
	sent      uint64
	bytes     uint64
}

func NewHub(clock sched.Clock, latency time.Duration) *Hub {
	return &Hub{
		clock:     clock,
		latency:   latency,
		endpoints: make(map[string]*Endpoint),
		links:     make(map[string]map[string]bool),
	}
}

// Attach returns the endpoint for addr, creating it on first use.
func (h *Hub) Attach(addr string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[addr]; ok {
		return ep
	}
	ep := &Endpoint{hub: h, addr: addr}
	h.endpoints[addr] = ep
	h.links[addr] = make(map[string]bool)
	return ep
}

// Link puts a and b in radio contact.
func (h *Hub) Link(a, b string) {
	h.setLink(a, b, true)
}

// Unlink ends the contact between a and b.
func (h *Hub) Unlink(a, b string) {
	h.setLink(a, b, false)
}

func (h *Hub) setLink(a, b string, up bool) {
	if a == b {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		m, ok := h.links[pair[0]]
		if !ok {
			m = make(map[string]bool)
			h.links[pair[0]] = m
		}
		if up {
			m[pair[1]] = true
		} else {
			delete(m, pair[1])
		}
	}
}

func (h *Hub) Linked(a, b string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[a][b]
}

// Neighbors lists the addresses linked to addr, sorted.
func (h *Hub) Neighbors(addr string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.links[addr]))
	for peer := range h.links[addr] {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Stats reports frames and bytes sent through the hub.
func (h *Hub) Stats() (frames, bytes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent, h.bytes
}

func (h *Hub) deliver(from, to string, data []byte) error {
	h.mu.Lock()
	if !h.links[from][to] {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
	}
	ep := h.endpoints[to]
	h.sent++
	h.bytes += uint64(len(data))
	h.mu.Unlock()
	if ep == nil {
		return fmt.Errorf("%w: %s not attached", ErrUnreachable, to)
	}

	frame := append([]byte(nil), data...)
	h.clock.Schedule(h.latency, func() {
		// contact may have ended while the frame was in the air
		if !h.Linked(from, to) {
			return
		}
		ep.receive(from, frame)
	})
	return nil
}

// Endpoint is one node's attachment to a Hub.
type Endpoint struct {
	hub  *Hub
	addr string

	mu      sync.Mutex
	handler Handler
	closed  bool
}

func (e *Endpoint) Addr() string { return e.addr }

func (e *Endpoint) Send(_ context.Context, peer string, data []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.hub.deliver(e.addr, peer, data)
}

func (e *Endpoint) Broadcast(ctx context.Context, data []byte) (int, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	n := 0
	for _, peer := range e.hub.Neighbors(e.addr) {
		if err := e.Send(ctx, peer, data); err == nil {
			n++
		}
	}
	return n, nil
}

func (e *Endpoint) OnReceive(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) receive(from string, data []byte) {
	e.mu.Lock()
	h, closed := e.handler, e.closed
	e.mu.Unlock()
	if h == nil || closed {
		return
	}
	h(from, data)
}
