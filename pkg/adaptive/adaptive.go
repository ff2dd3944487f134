// Package adaptive maps a node's remaining-energy ratio to the protocol
// parameters that depend on it: beacon interval, hop budget, forwarding
// probability and whether only high priority traffic is relayed.
package adaptive

import (
	"fmt"
	"sync"
	"time"
)

type Band int

const (
	BandNormal Band = iota
	BandLow
	BandCritical
)

func (b Band) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandLow:
		return "low"
	case BandCritical:
		return "critical"
	default:
		return fmt.Sprintf("Band(%d)", int(b))
	}
}

type Config struct {
	BeaconInterval    time.Duration
	MaxHops           uint32
	LowThreshold      float64
	CriticalThreshold float64
	FloodingFactor    float64
}

// Params are the energy-dependent protocol settings.
type Params struct {
	Ratio              float64
	Band               Band
	BeaconInterval     time.Duration
	MaxHops            uint32
	ForwardProbability float64
	PriorityOnly       bool
	// SuspendBeacons is set at half the critical threshold: the node stops
	// announcing itself but still delivers locally.
	SuspendBeacons bool
	// Depleted is set at zero energy; nothing is relayed.
	Depleted bool
}

// Controller holds the static configuration and the parameters last applied.
type Controller struct {
	cfg Config

	mu      sync.RWMutex
	current Params
}

func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.current = c.Recompute(1)
	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Recompute derives the parameters for ratio. It has no side effects.
func (c *Controller) Recompute(ratio float64) Params {
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	p := Params{
		Ratio:              ratio,
		Band:               BandNormal,
		BeaconInterval:     c.cfg.BeaconInterval,
		MaxHops:            c.cfg.MaxHops,
		ForwardProbability: 1,
	}
	switch {
	case ratio <= c.cfg.CriticalThreshold:
		p.Band = BandCritical
		p.BeaconInterval = 4 * c.cfg.BeaconInterval
		p.MaxHops = atLeastOne(c.cfg.MaxHops / 4)
		p.ForwardProbability = c.cfg.FloodingFactor
		p.PriorityOnly = true
	case ratio <= c.cfg.LowThreshold:
		p.Band = BandLow
		p.BeaconInterval = 2 * c.cfg.BeaconInterval
		p.MaxHops = atLeastOne(c.cfg.MaxHops / 2)
		p.ForwardProbability = c.cfg.FloodingFactor
	}
	p.SuspendBeacons = ratio <= c.cfg.CriticalThreshold*0.5
	p.Depleted = ratio <= 0
	return p
}

// Update recomputes for ratio, stores the result and reports whether the band
// or the beacon interval moved.
func (c *Controller) Update(ratio float64) (Params, bool) {
	p := c.Recompute(ratio)
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = p
	changed := prev.Band != p.Band ||
		prev.BeaconInterval != p.BeaconInterval ||
		prev.SuspendBeacons != p.SuspendBeacons ||
		prev.Depleted != p.Depleted
	return p, changed
}

func (c *Controller) Current() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func atLeastOne(v uint32) uint32 {
	if v < 1 {
		return 1
	}
	return v
}
