package contact

import (
	"sort"
	"sync"
	"time"
)

// Record is one peer's contact history.
type Record struct {
	Peer        string
	LastContact time.Time // zero until the first completed exchange
	LastSeen    time.Time
	InFlight    bool
}

// Tracker remembers when each peer last completed an exchange with this node
// and which exchanges are still running. A peer is not re-engaged while it is
// inside the host recent period or while an exchange with it is in flight.
type Tracker struct {
	mu       sync.Mutex
	recent   time.Duration
	timeout  time.Duration
	last     map[string]time.Time
	seen     map[string]time.Time
	inflight map[string]time.Time
}

// New returns a tracker. exchangeTimeout bounds how long an exchange may stay
// in flight before a new beacon from the same peer may replace it; zero
// disables the bound.
func New(recentPeriod, exchangeTimeout time.Duration) *Tracker {
	return &Tracker{
		recent:   recentPeriod,
		timeout:  exchangeTimeout,
		last:     make(map[string]time.Time),
		seen:     make(map[string]time.Time),
		inflight: make(map[string]time.Time),
	}
}

// OnBeacon records a sighting of peer and reports whether an exchange should
// be started. A true result marks the exchange in flight.
func (t *Tracker) OnBeacon(peer string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen[peer] = now
	if t.busyLocked(peer, now) {
		return false
	}
	if last, ok := t.last[peer]; ok && now.Sub(last) < t.recent {
		return false
	}
	t.inflight[peer] = now
	return true
}

// Begin marks an exchange with peer in flight without the recent-contact
// check; used by the answering side of a handshake.
func (t *Tracker) Begin(peer string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen[peer] = now
	if t.busyLocked(peer, now) {
		return false
	}
	t.inflight[peer] = now
	return true
}

// RecordExchange stores a completed exchange and clears the in-flight mark.
func (t *Tracker) RecordExchange(peer string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[peer] = now
	t.seen[peer] = now
	delete(t.inflight, peer)
}

// Abandon clears an in-flight exchange without counting it as a contact, so
// the next beacon retries.
func (t *Tracker) Abandon(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, peer)
}

// Forget drops the in-flight mark and the last completed exchange with peer,
// for rounds found to have failed after they were recorded.
func (t *Tracker) Forget(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, peer)
	delete(t.last, peer)
}

func (t *Tracker) InFlight(peer string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busyLocked(peer, now)
}

func (t *Tracker) LastContact(peer string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[peer]
	return ts, ok
}

// RecentlyContacted reports whether peer is inside the host recent period.
func (t *Tracker) RecentlyContacted(peer string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[peer]
	return ok && now.Sub(last) < t.recent
}

// Contacts returns every known peer sorted by address.
func (t *Tracker) Contacts() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.seen))
	for peer, seen := range t.seen {
		_, busy := t.inflight[peer]
		out = append(out, Record{
			Peer:        peer,
			LastContact: t.last[peer],
			LastSeen:    seen,
			InFlight:    busy,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (t *Tracker) busyLocked(peer string, now time.Time) bool {
	started, ok := t.inflight[peer]
	if !ok {
		return false
	}
	if t.timeout > 0 && now.Sub(started) >= t.timeout {
		delete(t.inflight, peer)
		return false
	}
	return true
}
