package buffer

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrBufferFull = errors.New("buffer: full")

type Class uint32

const (
	ClassBulk Class = iota
	ClassMultimedia
	ClassControl
	ClassSpeech
)

func (c Class) String() string {
	switch c {
	case ClassMultimedia:
		return "multimedia"
	case ClassControl:
		return "control"
	case ClassSpeech:
		return "speech"
	default:
		return "bulk"
	}
}

// ParseClass maps a class name to its value; unknown names are bulk.
func ParseClass(s string) Class {
	switch s {
	case "multimedia", "video":
		return ClassMultimedia
	case "control", "alert":
		return ClassControl
	case "speech", "voice":
		return ClassSpeech
	default:
		return ClassBulk
	}
}

// DefaultPriority is the priority an entry gets from its class alone.
func (c Class) DefaultPriority() uint32 {
	switch c {
	case ClassSpeech, ClassControl:
		return 10
	case ClassMultimedia:
		return 5
	default:
		return 1
	}
}

// Entry is one buffered packet.
type Entry struct {
	ID          uint64
	Origin      string
	Destination string
	Payload     []byte
	HopCount    uint32
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Priority    uint32
	Class       Class

	seq uint64
}

// outranks reports whether losing e would cost more than losing other:
// higher priority wins, then fewer hops travelled.
func (e *Entry) outranks(other *Entry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	return e.HopCount < other.HopCount
}

// evictsBefore orders eviction candidates: earliest expiry, then lowest
// priority, then earliest insertion.
func (e *Entry) evictsBefore(other *Entry) bool {
	if !e.ExpiresAt.Equal(other.ExpiresAt) {
		return e.ExpiresAt.Before(other.ExpiresAt)
	}
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	return e.seq < other.seq
}

// Buffer is a bounded packet store with expiry and capacity eviction.
// Entries are kept in insertion order.
type Buffer struct {
	mu   sync.RWMutex
	data map[uint64]*list.Element
	ll   *list.List
	cap  int
	seq  uint64
}

func New(capacity int) *Buffer {
	return &Buffer{
		data: make(map[uint64]*list.Element),
		ll:   list.New(),
		cap:  capacity,
	}
}

// Insert stores e. Inserting an id that is already held is a no-op. When the
// buffer is full the eviction candidate is dropped unless it outranks e, in
// which case ErrBufferFull is returned and nothing changes.
func (b *Buffer) Insert(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[e.ID]; ok {
		return nil
	}
	if b.cap <= 0 {
		return ErrBufferFull
	}
	if b.ll.Len() >= b.cap {
		victim := b.victimLocked()
		if victim == nil || victim.Value.(*Entry).outranks(&e) {
			return ErrBufferFull
		}
		b.removeElement(victim)
		if b.ll.Len() >= b.cap {
			return ErrBufferFull
		}
	}

	b.seq++
	ne := e
	ne.Payload = append([]byte(nil), e.Payload...)
	ne.seq = b.seq
	b.data[ne.ID] = b.ll.PushBack(&ne)
	return nil
}

// EvictExpired removes every entry whose expiry is at or before now and
// returns them.
func (b *Buffer) EvictExpired(now time.Time) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for el := b.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if !e.ExpiresAt.After(now) {
			out = append(out, *e)
			b.removeElement(el)
		}
		el = next
	}
	return out
}

// RemoveFunc drops every entry pred selects and returns how many went.
func (b *Buffer) RemoveFunc(pred func(Entry) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for el := b.ll.Front(); el != nil; {
		next := el.Next()
		if pred(*el.Value.(*Entry)) {
			b.removeElement(el)
			n++
		}
		el = next
	}
	return n
}

func (b *Buffer) Get(id uint64) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if el, ok := b.data[id]; ok {
		return *el.Value.(*Entry), true
	}
	return Entry{}, false
}

func (b *Buffer) Has(id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[id]
	return ok
}

func (b *Buffer) Remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.data[id]; ok {
		b.removeElement(el)
		return true
	}
	return false
}

// SummaryVector snapshots the held ids in insertion order.
func (b *Buffer) SummaryVector() SummaryVector {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sv := make(SummaryVector, 0, b.ll.Len())
	for el := b.ll.Front(); el != nil; el = el.Next() {
		sv = append(sv, el.Value.(*Entry).ID)
	}
	return sv
}

// Entries returns copies of all entries in insertion order.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, b.ll.Len())
	for el := b.ll.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ll.Len()
}

func (b *Buffer) Cap() int {
	return b.cap
}

func (b *Buffer) victimLocked() *list.Element {
	var victim *list.Element
	for el := b.ll.Front(); el != nil; el = el.Next() {
		if victim == nil || el.Value.(*Entry).evictsBefore(victim.Value.(*Entry)) {
			victim = el
		}
	}
	return victim
}

func (b *Buffer) removeElement(el *list.Element) {
	e := el.Value.(*Entry)
	delete(b.data, e.ID)
	b.ll.Remove(el)
}
