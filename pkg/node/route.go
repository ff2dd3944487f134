package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/epidemic"
	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

var ErrNoRoute = errors.New("node: no route")

// Router is the routing surface a node exposes to its host.
type Router interface {
	// RouteOutput accepts a locally originated packet.
	RouteOutput(dst string, payload []byte, class buffer.Class) (uint64, error)
	// RouteInput accepts a packet received from a peer.
	RouteInput(from string, p wire.DataPacket) error
	WriteStatus(w io.Writer) error
}

var _ Router = (*Node)(nil)

// Delivery is a packet handed to the local application.
type Delivery struct {
	ID      uint64
	Origin  string
	Payload []byte
	Class   buffer.Class
	Hops    uint32
	Latency time.Duration
}

// RouteOutput buffers a new packet for dst. Packets to this node are
// delivered at once. A node whose beacons are suspended cannot take new
// traffic and returns ErrNoRoute.
func (n *Node) RouteOutput(dst string, payload []byte, class buffer.Class) (uint64, error) {
	now := n.clock.Now()
	p := n.refreshEnergy(true)

	if dst == n.id {
		n.seq++
		id := wire.PacketID(n.id, n.seq)
		n.deliverLocal(Delivery{ID: id, Origin: n.id, Payload: payload, Class: class})
		return id, nil
	}
	if n.tr == nil {
		return 0, fmt.Errorf("%w: no transport", ErrNoRoute)
	}
	if p.SuspendBeacons {
		return 0, fmt.Errorf("%w: energy ratio %.2f", ErrNoRoute, p.Ratio)
	}

	n.seq++
	e := buffer.Entry{
		ID:          wire.PacketID(n.id, n.seq),
		Origin:      n.id,
		Destination: dst,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(n.cfg.EntryExpireTime),
		Priority:    class.DefaultPriority(),
		Class:       class,
	}
	if err := n.buf.Insert(e); err != nil {
		n.metrics.Dropped("buffer_full")
		n.log.Warn("dropping local packet", zap.Uint64("packet", e.ID), zap.String("dst", dst), zap.Error(err))
		return 0, err
	}
	n.metrics.Buffer(n.buf.Len())
	n.log.Debug("packet queued",
		zap.Uint64("packet", e.ID),
		zap.String("dst", dst),
		zap.Stringer("class", class),
	)
	return e.ID, nil
}

// RouteInput handles a data packet from a peer: local delivery if it is
// addressed here, otherwise storage for relaying. Drops for hop budget,
// expiry or energy are counted, not returned; a full buffer returns
// buffer.ErrBufferFull.
func (n *Node) RouteInput(from string, p wire.DataPacket) error {
	now := n.clock.Now()
	if p.Destination == n.id {
		n.deliverLocal(Delivery{
			ID:      p.PacketID,
			Origin:  p.Origin,
			Payload: p.Payload,
			Class:   buffer.Class(p.Class),
			Hops:    p.HopCount,
			Latency: now.Sub(time.Unix(0, p.CreatedAt)),
		})
		return nil
	}

	params := n.ctrl.Current()
	switch {
	case params.SuspendBeacons:
		n.metrics.Dropped("energy")
		n.log.Debug("energy too low to relay", zap.Uint64("packet", p.PacketID), zap.String("from", from))
		return nil
	case p.HopCount > params.MaxHops:
		n.metrics.Dropped("hop_limit")
		n.log.Debug("hop limit exceeded",
			zap.Uint64("packet", p.PacketID), zap.Uint32("hops", p.HopCount), zap.Uint32("max_hops", params.MaxHops))
		return nil
	}

	e := epidemic.FromWire(p, n.cfg.EntryExpireTime)
	if !e.ExpiresAt.After(now) {
		n.metrics.Dropped("expired")
		return nil
	}
	if n.buf.Has(e.ID) {
		return nil
	}
	if err := n.buf.Insert(e); err != nil {
		n.metrics.Dropped("buffer_full")
		n.log.Debug("dropping relayed packet", zap.Uint64("packet", e.ID), zap.String("from", from), zap.Error(err))
		return err
	}
	n.metrics.Buffer(n.buf.Len())
	return nil
}

func (n *Node) deliverLocal(d Delivery) {
	if !n.delivered.add(d.ID) {
		return
	}
	n.metrics.Delivered()
	n.log.Debug("packet delivered",
		zap.Uint64("packet", d.ID),
		zap.String("origin", d.Origin),
		zap.Uint32("hops", d.Hops),
		zap.Duration("latency", d.Latency),
	)
	if n.deliver != nil {
		n.deliver(d)
	}
}

// receive is installed as the transport handler.
func (n *Node) receive(from string, data []byte) {
	if n.exec == nil {
		n.HandleFrame(from, data)
		return
	}
	if err := n.exec(n.ctx, func() { n.HandleFrame(from, data) }); err != nil {
		n.log.Debug("frame not handled", zap.String("from", from), zap.Error(err))
	}
}

// sendFailed is installed on transports that deliver frames after Send
// returns; the round with peer is dropped so the next beacon retries it.
func (n *Node) sendFailed(peer string, err error) {
	abandon := func() {
		if n.running {
			n.engine.Abandon(peer, err)
		}
	}
	if n.exec == nil {
		abandon()
		return
	}
	if xerr := n.exec(n.ctx, abandon); xerr != nil {
		n.log.Debug("send failure not handled", zap.String("peer", peer), zap.Error(xerr))
	}
}

// HandleFrame decodes and dispatches one inbound frame.
func (n *Node) HandleFrame(from string, data []byte) {
	if !n.running {
		return
	}
	env, err := wire.Decode(data)
	if err != nil {
		n.metrics.Dropped("malformed")
		n.log.Debug("malformed frame", zap.String("from", from), zap.Error(err))
		return
	}
	if env.From == n.id {
		return
	}

	switch env.Type {
	case wire.MsgBeacon:
		n.onBeacon(env.From)
	case wire.MsgReply, wire.MsgReplyBack:
		n.onSummary(env)
	case wire.MsgData:
		if err := n.RouteInput(env.From, *env.Data); err != nil && !errors.Is(err, buffer.ErrBufferFull) {
			n.log.Warn("route input", zap.Error(err))
		}
	}
}

func (n *Node) onBeacon(peer string) {
	n.metrics.Beacon("received")
	if n.ctrl.Current().SuspendBeacons {
		return
	}
	if !n.contacts.OnBeacon(peer, n.clock.Now()) {
		n.metrics.Beacon("ignored")
		return
	}
	if err := n.engine.Initiate(n.ctx, peer); err != nil {
		n.log.Debug("exchange not started", zap.String("peer", peer), zap.Error(err))
	}
}

func (n *Node) onSummary(env *wire.Envelope) {
	if n.ctrl.Current().SuspendBeacons {
		return
	}
	res, err := n.engine.HandleSummary(n.ctx, env)
	if err != nil {
		n.log.Debug("exchange abandoned", zap.String("peer", env.From), zap.Error(err))
		return
	}
	if res.Sent > 0 {
		n.log.Debug("packets pushed", zap.String("peer", env.From), zap.Int("sent", res.Sent))
	}
}

// Send is RouteOutput run on the node's goroutine.
func (n *Node) Send(ctx context.Context, dst string, payload []byte, class buffer.Class) (uint64, error) {
	var (
		id  uint64
		err error
	)
	if xerr := n.Do(ctx, func() { id, err = n.RouteOutput(dst, payload, class) }); xerr != nil {
		return 0, xerr
	}
	return id, err
}
