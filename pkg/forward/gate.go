// Package forward decides, packet by packet, whether a node spends energy
// relaying a buffered packet to a peer.
package forward

import (
	"math/rand"
	"sync"

	"github.com/ryandielhenn/zephyrdtn/pkg/adaptive"
	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/energy"
)

const (
	// DefaultCostPerByte is the transmission cost in joules per byte.
	DefaultCostPerByte = 0.001
	// BudgetFraction caps a single transmission at this share of the
	// remaining energy.
	BudgetFraction = 0.1
	// unmeteredEnergy stands in for the remaining energy of a node without an
	// energy source.
	unmeteredEnergy = 1000.0
)

type Config struct {
	HighPriorityThreshold uint32
	CostPerByte           float64
}

type Gate struct {
	cfg    Config
	source energy.Source

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a gate. source may be nil; rng may be nil for a time-seeded one.
func New(cfg Config, source energy.Source, rng *rand.Rand) *Gate {
	if cfg.CostPerByte <= 0 {
		cfg.CostPerByte = DefaultCostPerByte
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Gate{cfg: cfg, source: source, rng: rng}
}

// HighPriority reports whether e belongs to the class still relayed in the
// critical band.
func (g *Gate) HighPriority(e buffer.Entry) bool {
	return e.Priority >= g.cfg.HighPriorityThreshold
}

// TransmissionCost is the energy needed to send size bytes.
func (g *Gate) TransmissionCost(size int) float64 {
	if size < 0 {
		size = 0
	}
	return float64(size) * g.cfg.CostPerByte
}

// Affordable applies the energy guard alone: a transmission may not use more
// than BudgetFraction of what is left.
func (g *Gate) Affordable(size int) bool {
	remaining := energy.Remaining(g.source, unmeteredEnergy)
	return g.TransmissionCost(size) <= remaining*BudgetFraction
}

// ShouldForward is ShouldForwardSized with the entry's own payload size.
func (g *Gate) ShouldForward(e buffer.Entry, p adaptive.Params) bool {
	return g.ShouldForwardSized(e, len(e.Payload), p)
}

// ShouldForwardSized decides for e when size bytes would actually go on air.
// In the low band the draw happens on every call, so the same packet may be
// refused on one contact and accepted on the next.
func (g *Gate) ShouldForwardSized(e buffer.Entry, size int, p adaptive.Params) bool {
	if p.Depleted {
		return false
	}
	if uint64(e.HopCount)+1 > uint64(p.MaxHops) {
		return false
	}
	if !g.Affordable(size) {
		return false
	}
	switch {
	case p.PriorityOnly:
		return g.HighPriority(e)
	case p.Band == adaptive.BandLow:
		return g.draw() < p.ForwardProbability
	default:
		return true
	}
}

func (g *Gate) draw() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}
