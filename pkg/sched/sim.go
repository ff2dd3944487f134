package sched

import (
	"container/heap"
	"time"
)

type event struct {
	at  time.Time
	seq uint64
	id  Timer
	fn  func()
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Sim is a discrete-event clock. Events run in nondecreasing time order and
// events due at the same instant run in the order they were scheduled.
// Sim is not safe for concurrent use; everything runs on the caller of Run.
type Sim struct {
	now     time.Time
	seq     uint64
	next    Timer
	queue   eventHeap
	pending map[Timer]*event
}

func NewSim(start time.Time) *Sim {
	return &Sim{now: start, pending: make(map[Timer]*event)}
}

func (s *Sim) Now() time.Time { return s.now }

func (s *Sim) Schedule(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	s.seq++
	s.next++
	e := &event{at: s.now.Add(d), seq: s.seq, id: s.next, fn: fn}
	heap.Push(&s.queue, e)
	s.pending[e.id] = e
	return e.id
}

func (s *Sim) Cancel(t Timer) {
	if e, ok := s.pending[t]; ok {
		e.fn = nil
		delete(s.pending, t)
	}
}

// Pending reports how many live events are queued.
func (s *Sim) Pending() int { return len(s.pending) }

// Step runs the next live event and reports whether there was one.
func (s *Sim) Step() bool {
	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*event)
		if e.fn == nil {
			continue
		}
		delete(s.pending, e.id)
		s.now = e.at
		e.fn()
		return true
	}
	return false
}

// RunUntil runs every event due at or before end, then advances the clock to
// end.
func (s *Sim) RunUntil(end time.Time) {
	for s.queue.Len() > 0 {
		head := s.queue[0]
		if head.fn == nil {
			heap.Pop(&s.queue)
			continue
		}
		if head.at.After(end) {
			break
		}
		s.Step()
	}
	if end.After(s.now) {
		s.now = end
	}
}

func (s *Sim) RunFor(d time.Duration) {
	s.RunUntil(s.now.Add(d))
}
