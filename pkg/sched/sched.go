// Package sched provides the clocks nodes run on. Handlers scheduled on a
// clock run one at a time; a node never sees two of its events interleave.
package sched

import "time"

// Timer identifies a scheduled callback. The zero Timer is never issued.
type Timer uint64

// Clock is the time and scheduling source a node depends on.
type Clock interface {
	Now() time.Time
	// Schedule runs fn after d. Negative delays run as soon as possible.
	Schedule(d time.Duration, fn func()) Timer
	// Cancel stops a pending timer. Cancelling a fired, cancelled or unknown
	// timer does nothing.
	Cancel(t Timer)
}
