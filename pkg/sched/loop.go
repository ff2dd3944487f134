package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("sched: loop stopped")

// Loop is a real-time Clock backed by a single goroutine. Timers and posted
// closures all execute on the goroutine running Run.
type Loop struct {
	events chan func()
	done   chan struct{}
	stop   sync.Once

	mu     sync.Mutex
	next   Timer
	timers map[Timer]*time.Timer
	now    func() time.Time
}

func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = 1024
	}
	return &Loop{
		events: make(chan func(), queue),
		done:   make(chan struct{}),
		timers: make(map[Timer]*time.Timer),
		now:    time.Now,
	}
}

func (l *Loop) Now() time.Time { return l.now() }

// Post queues fn to run on the loop goroutine. After Run returns, fn is
// dropped instead of waiting on a queue nobody drains.
func (l *Loop) Post(fn func()) {
	select {
	case l.events <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.events <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) Schedule(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.timers[id] = time.AfterFunc(d, func() {
		l.Post(func() {
			if !l.take(id) {
				return
			}
			fn()
		})
	})
	return id
}

func (l *Loop) Cancel(t Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tm, ok := l.timers[t]; ok {
		tm.Stop()
		delete(l.timers, t)
	}
}

// take removes a fired timer and reports whether it was still live; a timer
// cancelled after its AfterFunc fired but before the loop ran it is dropped.
func (l *Loop) take(t Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[t]; !ok {
		return false
	}
	delete(l.timers, t)
	return true
}

// Run executes posted events until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.stopAll()
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

func (l *Loop) stopAll() {
	l.stop.Do(func() { close(l.done) })
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, tm := range l.timers {
		tm.Stop()
		delete(l.timers, id)
	}
}
