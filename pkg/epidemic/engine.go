package epidemic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/internal/telemetry"
	"github.com/ryandielhenn/zephyrdtn/pkg/adaptive"
	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/contact"
	"github.com/ryandielhenn/zephyrdtn/pkg/forward"
	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

var ErrTransportFailure = errors.New("epidemic: transport failure")

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Sender is the part of a transport the engine needs.
type Sender interface {
	Send(ctx context.Context, peer string, data []byte) error
}

// ParamSource supplies the adaptive parameters in force.
type ParamSource interface {
	Current() adaptive.Params
}

type Config struct {
	Self             string
	CompressionRatio float64
	ExchangeTimeout  time.Duration
	// Transform reshapes multimedia payloads in the low and critical bands.
	// Nil means Identity.
	Transform PayloadTransform
	// Charge is told how many effective bytes each transmission put on air.
	Charge func(bytes int)
}

// Deps are the node components the engine works with.
type Deps struct {
	Buffer   *buffer.Buffer
	Contacts *contact.Tracker
	Params   ParamSource
	Gate     *forward.Gate
	Out      Sender
	Clock    sched.Clock
	Logger   *zap.Logger
}

// Result summarizes one side of an exchange round.
type Result struct {
	Peer      string
	Role      Role
	Sent      int
	Requested int
	SkipHops  int
	SkipGate  int
}

// Engine is driven from the node's clock and is not safe for concurrent use.
type Engine struct {
	cfg     Config
	d       Deps
	log     *zap.Logger
	metrics telemetry.NodeMetrics

	// initiated holds the exchange timeout timer of every round this node
	// started and has not finished.
	initiated map[string]sched.Timer
}

func New(cfg Config, d Deps) *Engine {
	if cfg.Transform == nil {
		cfg.Transform = Identity
	}
	if cfg.CompressionRatio <= 0 || cfg.CompressionRatio > 1 {
		cfg.CompressionRatio = 1
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		d:         d,
		log:       log.With(zap.String("component", "epidemic")),
		metrics:   telemetry.ForNode(cfg.Self),
		initiated: make(map[string]sched.Timer),
	}
}

// Initiate starts a round with peer. The caller has already cleared it with
// the contact tracker.
func (e *Engine) Initiate(ctx context.Context, peer string) error {
	now := e.d.Clock.Now()
	e.d.Buffer.EvictExpired(now)
	sv := e.d.Buffer.SummaryVector()

	if err := e.send(ctx, peer, wire.Summary(e.cfg.Self, sv, true)); err != nil {
		e.d.Contacts.Abandon(peer)
		e.metrics.Exchange(string(RoleInitiator), "transport_failure")
		return err
	}

	if t, ok := e.initiated[peer]; ok {
		e.d.Clock.Cancel(t)
	}
	var timer sched.Timer
	if e.cfg.ExchangeTimeout > 0 {
		timer = e.d.Clock.Schedule(e.cfg.ExchangeTimeout, func() { e.expire(peer) })
	}
	e.initiated[peer] = timer
	e.log.Debug("summary vector sent", zap.String("peer", peer), zap.Int("ids", len(sv)))
	return nil
}

// Initiating reports whether a round this node started with peer is open.
func (e *Engine) Initiating(peer string) bool {
	_, ok := e.initiated[peer]
	return ok
}

// HandleSummary processes a REPLY or REPLY_BACK from env.From.
func (e *Engine) HandleSummary(ctx context.Context, env *wire.Envelope) (Result, error) {
	switch env.Type {
	case wire.MsgReply:
		return e.onReply(ctx, env.From, env.IDs)
	case wire.MsgReplyBack:
		return e.onReplyBack(ctx, env.From, env.IDs)
	default:
		return Result{}, fmt.Errorf("epidemic: %s is not a summary vector", env.Type)
	}
}

func (e *Engine) onReply(ctx context.Context, peer string, ids []uint64) (Result, error) {
	now := e.d.Clock.Now()
	res := Result{Peer: peer, Role: RoleResponder}

	if _, mine := e.initiated[peer]; mine {
		if e.cfg.Self < peer {
			// both sides initiated; the peer yields and answers ours
			e.log.Debug("simultaneous REPLY, keeping initiator role", zap.String("peer", peer))
			return res, nil
		}
		e.finish(peer)
		e.d.Contacts.Abandon(peer)
		e.log.Debug("simultaneous REPLY, yielding to peer", zap.String("peer", peer))
	}
	if !e.d.Contacts.Begin(peer, now) {
		return res, nil
	}

	e.d.Buffer.EvictExpired(now)
	local := e.d.Buffer.SummaryVector()
	if err := e.send(ctx, peer, wire.Summary(e.cfg.Self, local, false)); err != nil {
		e.d.Contacts.Abandon(peer)
		e.metrics.Exchange(string(RoleResponder), "transport_failure")
		return res, err
	}
	if err := e.transfer(ctx, peer, local, ids, &res); err != nil {
		e.d.Contacts.Abandon(peer)
		e.metrics.Exchange(string(RoleResponder), "transport_failure")
		return res, err
	}
	e.d.Contacts.RecordExchange(peer, e.d.Clock.Now())
	e.metrics.Exchange(string(RoleResponder), "ok")
	e.logDone(res)
	return res, nil
}

func (e *Engine) onReplyBack(ctx context.Context, peer string, ids []uint64) (Result, error) {
	res := Result{Peer: peer, Role: RoleInitiator}
	if _, mine := e.initiated[peer]; !mine {
		e.log.Debug("REPLY_BACK without open round", zap.String("peer", peer))
		return res, nil
	}
	e.finish(peer)

	e.d.Buffer.EvictExpired(e.d.Clock.Now())
	local := e.d.Buffer.SummaryVector()
	if err := e.transfer(ctx, peer, local, ids, &res); err != nil {
		e.d.Contacts.Abandon(peer)
		e.metrics.Exchange(string(RoleInitiator), "transport_failure")
		return res, err
	}
	e.d.Contacts.RecordExchange(peer, e.d.Clock.Now())
	e.metrics.Exchange(string(RoleInitiator), "ok")
	e.logDone(res)
	return res, nil
}

// transfer pushes local − remote to peer.
func (e *Engine) transfer(ctx context.Context, peer string, local buffer.SummaryVector, remote []uint64, res *Result) error {
	theirs := buffer.Normalize(remote)
	toSend := local.Diff(theirs)
	res.Requested = len(theirs.Diff(local))

	params := e.d.Params.Current()
	for _, id := range toSend {
		entry, ok := e.d.Buffer.Get(id)
		if !ok {
			continue
		}
		if uint64(entry.HopCount)+1 > uint64(params.MaxHops) {
			res.SkipHops++
			e.metrics.Dropped("hop_limit")
			continue
		}
		payload, size := e.shape(entry, params)
		if !e.d.Gate.ShouldForwardSized(entry, size, params) {
			res.SkipGate++
			e.metrics.Dropped("gate")
			continue
		}
		pkt := ToWire(entry)
		pkt.HopCount++
		pkt.Payload = payload
		if err := e.sendSized(ctx, peer, wire.Data(e.cfg.Self, pkt), len(payload)-size); err != nil {
			return err
		}
		res.Sent++
		e.metrics.Forwarded()
	}
	return nil
}

// shape applies the multimedia reduction in the low and critical bands and
// returns the payload to send with its effective on-air size.
func (e *Engine) shape(entry buffer.Entry, p adaptive.Params) ([]byte, int) {
	if entry.Class != buffer.ClassMultimedia || p.Band == adaptive.BandNormal {
		return entry.Payload, len(entry.Payload)
	}
	payload := e.cfg.Transform(entry.Payload, e.cfg.CompressionRatio)
	size := EffectiveSize(len(payload), e.cfg.CompressionRatio)
	if len(payload) < len(entry.Payload) {
		// the transform already shrank it
		size = len(payload)
	}
	e.metrics.Saved(len(entry.Payload) - size)
	return payload, size
}

// Abandon gives up on any round with peer after a send failed outside the
// call that made it, as with transports that queue frames. A round already
// recorded as complete is forgotten so the next beacon retries it.
func (e *Engine) Abandon(peer string, err error) {
	role := RoleResponder
	if _, mine := e.initiated[peer]; mine {
		role = RoleInitiator
		e.finish(peer)
	}
	e.d.Contacts.Forget(peer)
	e.metrics.Exchange(string(role), "transport_failure")
	e.log.Debug("exchange abandoned after send failure", zap.String("peer", peer), zap.Error(err))
}

func (e *Engine) expire(peer string) {
	if _, ok := e.initiated[peer]; !ok {
		return
	}
	delete(e.initiated, peer)
	e.d.Contacts.Abandon(peer)
	e.metrics.Exchange(string(RoleInitiator), "timeout")
	e.log.Debug("exchange timed out", zap.String("peer", peer))
}

func (e *Engine) finish(peer string) {
	if t, ok := e.initiated[peer]; ok {
		if t != 0 {
			e.d.Clock.Cancel(t)
		}
		delete(e.initiated, peer)
	}
}

func (e *Engine) send(ctx context.Context, peer string, env *wire.Envelope) error {
	return e.sendSized(ctx, peer, env, 0)
}

// sendSized encodes and sends env; saved bytes are not charged.
func (e *Engine) sendSized(ctx context.Context, peer string, env *wire.Envelope, saved int) error {
	b, err := wire.Encode(env)
	if err != nil {
		return err
	}
	if err := e.d.Out.Send(ctx, peer, b); err != nil {
		e.log.Debug("send failed, abandoning round",
			zap.String("peer", peer), zap.Stringer("msg", env), zap.Error(err))
		return fmt.Errorf("%w: %s to %s: %v", ErrTransportFailure, env.Type, peer, err)
	}
	if e.cfg.Charge != nil {
		e.cfg.Charge(len(b) - saved)
	}
	return nil
}

func (e *Engine) logDone(res Result) {
	e.log.Debug("exchange complete",
		zap.String("peer", res.Peer),
		zap.String("role", string(res.Role)),
		zap.Int("sent", res.Sent),
		zap.Int("requested", res.Requested),
		zap.Int("skip_hops", res.SkipHops),
		zap.Int("skip_gate", res.SkipGate),
	)
}
