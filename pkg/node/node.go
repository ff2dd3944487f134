// Package node runs the energy-adaptive epidemic routing protocol for one
// network address. A Node owns its buffer, contact table and adaptive
// controller and is driven entirely from its clock: beacon timers, inbound
// frames and local sends are all handled one at a time.
package node

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/internal/config"
	"github.com/ryandielhenn/zephyrdtn/internal/telemetry"
	"github.com/ryandielhenn/zephyrdtn/pkg/adaptive"
	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/contact"
	"github.com/ryandielhenn/zephyrdtn/pkg/energy"
	"github.com/ryandielhenn/zephyrdtn/pkg/epidemic"
	"github.com/ryandielhenn/zephyrdtn/pkg/forward"
	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
	"github.com/ryandielhenn/zephyrdtn/pkg/transport"
	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

var errNoID = errors.New("node: empty node id")

type Options struct {
	Config    config.Config
	Clock     sched.Clock
	Transport transport.Transport
	// Energy may be nil for a mains-powered node.
	Energy energy.Source
	Logger *zap.Logger
	// Rand drives beacon jitter and the low-band forwarding draw. Nil seeds
	// one from the global source.
	Rand *rand.Rand
	// Transform reshapes multimedia payloads in the low and critical bands.
	Transform epidemic.PayloadTransform
	// Deliver is called for every packet addressed to this node, once per id.
	Deliver func(Delivery)
	// Exec runs fn on the goroutine that owns the node and waits for it.
	// Transports and HTTP handlers that call in from other goroutines go
	// through it. Nil runs fn in place, which suits the simulator clock.
	Exec func(ctx context.Context, fn func()) error
}

type Node struct {
	id      string
	cfg     config.Config
	clock   sched.Clock
	tr      transport.Transport
	src     energy.Source
	log     *zap.Logger
	metrics telemetry.NodeMetrics
	rng     *rand.Rand

	buf      *buffer.Buffer
	contacts *contact.Tracker
	ctrl     *adaptive.Controller
	gate     *forward.Gate
	engine   *epidemic.Engine

	exec    func(ctx context.Context, fn func()) error
	deliver func(Delivery)

	ctx       context.Context
	running   bool
	startedAt time.Time
	beacon    sched.Timer
	seq       uint32
	delivered *recentSet
}

func New(opts Options) (*Node, error) {
	cfg := opts.Config
	if cfg.NodeID == "" {
		return nil, errNoID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	n := &Node{
		id:        cfg.NodeID,
		cfg:       cfg,
		clock:     opts.Clock,
		tr:        opts.Transport,
		src:       opts.Energy,
		log:       log.With(zap.String("node", cfg.NodeID)),
		metrics:   telemetry.ForNode(cfg.NodeID),
		rng:       rng,
		buf:       buffer.New(cfg.QueueCapacity),
		contacts:  contact.New(cfg.HostRecentPeriod, cfg.ExchangeTimeout),
		exec:      opts.Exec,
		deliver:   opts.Deliver,
		ctx:       context.Background(),
		delivered: newRecentSet(deliveredMemory),
	}
	n.ctrl = adaptive.New(adaptive.Config{
		BeaconInterval:    cfg.BeaconInterval,
		MaxHops:           cfg.MaxHops,
		LowThreshold:      cfg.EnergyThresholdLow,
		CriticalThreshold: cfg.EnergyThresholdCrit,
		FloodingFactor:    cfg.FloodingFactor,
	})
	n.gate = forward.New(forward.Config{
		HighPriorityThreshold: cfg.HighPriorityThreshold,
		CostPerByte:           cfg.CostPerByte,
	}, opts.Energy, rand.New(rand.NewSource(rng.Int63())))
	n.engine = epidemic.New(epidemic.Config{
		Self:             n.id,
		CompressionRatio: cfg.CompressionRatio,
		ExchangeTimeout:  cfg.ExchangeTimeout,
		Transform:        opts.Transform,
		Charge:           n.charge,
	}, epidemic.Deps{
		Buffer:   n.buf,
		Contacts: n.contacts,
		Params:   n.ctrl,
		Gate:     n.gate,
		Out:      opts.Transport,
		Clock:    opts.Clock,
		Logger:   n.log,
	})
	return n, nil
}

func (n *Node) ID() string { return n.id }

// Params returns the adaptive parameters in force.
func (n *Node) Params() adaptive.Params { return n.ctrl.Current() }

// Buffer exposes the packet store for inspection.
func (n *Node) Buffer() *buffer.Buffer { return n.buf }

func (n *Node) Contacts() *contact.Tracker { return n.contacts }

// Start hooks the node to its transport and energy source and schedules the
// first beacon. It must run on the node's clock.
func (n *Node) Start(ctx context.Context) {
	if n.running {
		return
	}
	n.ctx = ctx
	n.running = true
	n.startedAt = n.clock.Now()

	if b, ok := n.src.(notifier); ok {
		b.OnDepleted(func() { n.onEnergyEvent("depleted") })
		b.OnRecharged(func() { n.onEnergyEvent("recharged") })
	}
	if t, ok := n.src.(ticker); ok {
		t.Tick(n.startedAt)
	}
	if n.tr != nil {
		n.tr.OnReceive(n.receive)
		if r, ok := n.tr.(transport.Reporter); ok {
			r.OnSendFailure(n.sendFailed)
		}
	}
	p := n.refreshEnergy(false)
	n.log.Info("node started",
		zap.Float64("energy_ratio", p.Ratio),
		zap.Stringer("band", p.Band),
		zap.Int("capacity", n.buf.Cap()),
	)
	n.scheduleBeacon(0)
}

// Stop cancels the beacon timer; inbound frames are ignored afterwards.
func (n *Node) Stop() {
	if !n.running {
		return
	}
	n.running = false
	if n.beacon != 0 {
		n.clock.Cancel(n.beacon)
		n.beacon = 0
	}
	n.log.Info("node stopped")
}

// Do runs fn on the node's goroutine.
func (n *Node) Do(ctx context.Context, fn func()) error {
	if n.exec == nil {
		fn()
		return nil
	}
	return n.exec(ctx, fn)
}

type notifier interface {
	OnDepleted(fn func())
	OnRecharged(fn func())
}

type ticker interface {
	Tick(now time.Time)
}

func (n *Node) scheduleBeacon(interval time.Duration) {
	var jitter time.Duration
	if n.cfg.BeaconJitterMs > 0 {
		jitter = time.Duration(n.rng.Int63n(int64(n.cfg.BeaconJitterMs)+1)) * time.Millisecond
	}
	n.beacon = n.clock.Schedule(interval+jitter, n.beaconTick)
}

func (n *Node) beaconTick() {
	n.beacon = 0
	if !n.running {
		return
	}
	now := n.clock.Now()
	if t, ok := n.src.(ticker); ok {
		t.Tick(now)
	}
	p := n.refreshEnergy(false)
	n.sweep(now)

	if p.SuspendBeacons {
		n.metrics.Beacon("suspended")
	} else {
		n.sendBeacon()
	}
	if n.running && n.beacon == 0 {
		n.scheduleBeacon(n.ctrl.Current().BeaconInterval)
	}
}

func (n *Node) sendBeacon() {
	if n.tr == nil {
		return
	}
	b, err := wire.Encode(wire.Beacon(n.id))
	if err != nil {
		n.log.Error("encode beacon", zap.Error(err))
		return
	}
	reached, err := n.tr.Broadcast(n.ctx, b)
	if err != nil {
		n.metrics.Beacon("error")
		n.log.Debug("beacon broadcast failed", zap.Error(err))
		return
	}
	n.metrics.Beacon("sent")
	n.charge(len(b))
	if reached > 0 {
		n.log.Debug("beacon sent", zap.Int("reached", reached))
	}
}

func (n *Node) sweep(now time.Time) {
	for _, e := range n.buf.EvictExpired(now) {
		n.metrics.Dropped("expired")
		n.log.Debug("packet expired", zap.Uint64("packet", e.ID))
	}
	n.metrics.Buffer(n.buf.Len())
}

// charge drains the energy source for bytes put on air.
func (n *Node) charge(bytes int) {
	c, ok := n.src.(energy.Consumer)
	if !ok || bytes <= 0 {
		return
	}
	c.Consume(n.gate.TransmissionCost(bytes))
	n.refreshEnergy(true)
}

func (n *Node) onEnergyEvent(kind string) {
	n.log.Info("energy "+kind, zap.Float64("remaining", energy.Remaining(n.src, 0)))
	n.refreshEnergy(true)
}

// refreshEnergy feeds the current ratio to the controller. When the
// parameters move and reschedule is set, a pending beacon is re-armed with
// the new interval.
func (n *Node) refreshEnergy(reschedule bool) adaptive.Params {
	prev := n.ctrl.Current()
	p, changed := n.ctrl.Update(energy.Ratio(n.src))
	n.metrics.Energy(p.Ratio, int(p.Band))
	if !changed {
		return p
	}
	n.log.Info("adaptive parameters changed",
		zap.Stringer("from", prev.Band),
		zap.Stringer("to", p.Band),
		zap.Float64("energy_ratio", p.Ratio),
		zap.Duration("beacon_interval", p.BeaconInterval),
		zap.Uint32("max_hops", p.MaxHops),
		zap.Bool("beacons_suspended", p.SuspendBeacons),
		zap.Bool("depleted", p.Depleted),
	)
	if p.Band == adaptive.BandCritical && prev.Band != adaptive.BandCritical && n.cfg.PurgeOnCritical {
		purged := n.buf.RemoveFunc(func(e buffer.Entry) bool { return !n.gate.HighPriority(e) })
		n.metrics.Buffer(n.buf.Len())
		n.log.Warn("critical energy, purged low priority packets", zap.Int("purged", purged))
	}
	if reschedule && n.running && n.beacon != 0 {
		n.clock.Cancel(n.beacon)
		n.scheduleBeacon(p.BeaconInterval)
	}
	return p
}
