package energy

import (
	"sync"
	"time"
)

// Source is anything that can report a node's stored energy in joules.
type Source interface {
	RemainingEnergy() float64
	InitialEnergy() float64
}

// Consumer is implemented by sources that transmissions can drain.
type Consumer interface {
	Consume(joules float64)
}

// Ratio returns remaining/initial clamped to [0,1]. A nil source is a mains
// powered node and reports 1; a source with no initial energy reports 0.
func Ratio(s Source) float64 {
	if s == nil {
		return 1
	}
	initial := s.InitialEnergy()
	if initial <= 0 {
		return 0
	}
	r := s.RemainingEnergy() / initial
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Remaining reports the remaining energy, or def when no source is attached.
func Remaining(s Source, def float64) float64 {
	if s == nil {
		return def
	}
	return s.RemainingEnergy()
}

// Battery is a linear energy store with optional harvesting. Depletion and
// recharge callbacks fire on the transitions to and away from zero.
type Battery struct {
	mu          sync.Mutex
	initial     float64
	remaining   float64
	harvestRate float64 // watts
	lastHarvest time.Time
	depleted    bool
	onDepleted  []func()
	onRecharged []func()
}

func NewBattery(initial float64) *Battery {
	if initial < 0 {
		initial = 0
	}
	return &Battery{initial: initial, remaining: initial, depleted: initial == 0}
}

func (b *Battery) InitialEnergy() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial
}

func (b *Battery) RemainingEnergy() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// SetRemaining overrides the stored energy, clamped to [0, initial].
func (b *Battery) SetRemaining(j float64) {
	b.mu.Lock()
	b.remaining = clamp(j, b.initial)
	fire := b.transitionLocked()
	b.mu.Unlock()
	run(fire)
}

func (b *Battery) Consume(j float64) {
	if j <= 0 {
		return
	}
	b.mu.Lock()
	b.remaining = clamp(b.remaining-j, b.initial)
	fire := b.transitionLocked()
	b.mu.Unlock()
	run(fire)
}

func (b *Battery) Harvest(j float64) {
	if j <= 0 {
		return
	}
	b.mu.Lock()
	b.remaining = clamp(b.remaining+j, b.initial)
	fire := b.transitionLocked()
	b.mu.Unlock()
	run(fire)
}

func (b *Battery) SetHarvestingRate(watts float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if watts < 0 {
		watts = 0
	}
	b.harvestRate = watts
}

// Tick credits harvested energy for the time elapsed since the previous tick.
// The first call only establishes the reference time.
func (b *Battery) Tick(now time.Time) {
	b.mu.Lock()
	if b.lastHarvest.IsZero() || b.harvestRate == 0 {
		b.lastHarvest = now
		b.mu.Unlock()
		return
	}
	dt := now.Sub(b.lastHarvest).Seconds()
	b.lastHarvest = now
	if dt <= 0 {
		b.mu.Unlock()
		return
	}
	b.remaining = clamp(b.remaining+dt*b.harvestRate, b.initial)
	fire := b.transitionLocked()
	b.mu.Unlock()
	run(fire)
}

func (b *Battery) OnDepleted(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDepleted = append(b.onDepleted, fn)
}

func (b *Battery) OnRecharged(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRecharged = append(b.onRecharged, fn)
}

func (b *Battery) transitionLocked() []func() {
	switch {
	case !b.depleted && b.remaining <= 0:
		b.depleted = true
		return append([]func(){}, b.onDepleted...)
	case b.depleted && b.remaining > 0:
		b.depleted = false
		return append([]func(){}, b.onRecharged...)
	}
	return nil
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func clamp(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
