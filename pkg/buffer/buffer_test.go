package buffer

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

var t0 = time.Unix(1_000, 0)

func entry(id uint64, expiresIn time.Duration) Entry {
	return Entry{
		ID:        id,
		Origin:    "origin",
		Payload:   []byte(fmt.Sprintf("payload-%d", id)),
		CreatedAt: t0,
		ExpiresAt: t0.Add(expiresIn),
		Priority:  1,
	}
}

func ids(b *Buffer) []uint64 {
	return b.SummaryVector()
}

func TestInsertGetRemove(t *testing.T) {
	b := New(8)
	for i := uint64(1); i <= 3; i++ {
		if err := b.Insert(entry(i, time.Minute)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	e, ok := b.Get(2)
	if !ok || string(e.Payload) != "payload-2" {
		t.Fatalf("Get(2) = %+v,%v", e, ok)
	}
	if !b.Remove(2) {
		t.Fatalf("Remove(2) = false, want true")
	}
	if b.Remove(2) {
		t.Fatalf("second Remove(2) = true, want false")
	}
	if _, ok := b.Get(2); ok {
		t.Fatalf("Get(2) ok after remove")
	}
}

func TestInsertIdempotent(t *testing.T) {
	b := New(4)
	first := entry(9, time.Minute)
	if err := b.Insert(first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	again := entry(9, time.Hour)
	again.Payload = []byte("different")
	if err := b.Insert(again); err != nil {
		t.Fatalf("duplicate Insert returned %v, want nil", err)
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d after duplicate, want 1", b.Len())
	}
	got, _ := b.Get(9)
	if string(got.Payload) != "payload-9" || !got.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("duplicate Insert changed the entry: %+v", got)
	}
}

func TestInsertCopiesPayload(t *testing.T) {
	b := New(2)
	e := entry(1, time.Minute)
	if err := b.Insert(e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	e.Payload[0] = 'X'
	got, _ := b.Get(1)
	if got.Payload[0] == 'X' {
		t.Fatalf("buffer shares the caller's payload slice")
	}
}

func TestEvictionEarliestExpiry(t *testing.T) {
	b := New(2)
	e1, e2, e3 := entry(1, 10*time.Second), entry(2, 20*time.Second), entry(3, 15*time.Second)
	for _, e := range []Entry{e1, e2, e3} {
		if err := b.Insert(e); err != nil {
			t.Fatalf("Insert(%d): %v", e.ID, err)
		}
	}
	if _, ok := b.Get(1); ok {
		t.Fatalf("E1 should have been evicted")
	}
	got := ids(b)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("buffer = %v, want [2 3]", got)
	}
}

func TestEvictionTieBreaks(t *testing.T) {
	// Same expiry: lowest priority goes first.
	b := New(2)
	hi := entry(1, 10*time.Second)
	hi.Priority = 10
	lo := entry(2, 10*time.Second)
	lo.Priority = 1
	_ = b.Insert(hi)
	_ = b.Insert(lo)
	in := entry(3, time.Minute)
	in.Priority = 1
	if err := b.Insert(in); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := b.Get(2); ok {
		t.Fatalf("low priority entry should have been evicted")
	}

	// Same expiry and priority: earliest insertion goes first.
	b = New(2)
	_ = b.Insert(entry(10, 10*time.Second))
	_ = b.Insert(entry(11, 10*time.Second))
	if err := b.Insert(entry(12, time.Minute)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := ids(b); got[0] != 11 || got[1] != 12 {
		t.Fatalf("buffer = %v, want [11 12]", got)
	}
}

func TestInsertRejectsWhenVictimOutranks(t *testing.T) {
	b := New(1)
	held := entry(1, 10*time.Second)
	held.Priority = 10
	if err := b.Insert(held); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	in := entry(2, time.Minute)
	in.Priority = 1
	if err := b.Insert(in); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Insert = %v, want ErrBufferFull", err)
	}
	if _, ok := b.Get(1); !ok {
		t.Fatalf("rejected insert must not evict")
	}

	// Equal priority: the held entry with fewer hops wins.
	b = New(1)
	local := entry(3, 10*time.Second)
	_ = b.Insert(local)
	relayed := entry(4, time.Minute)
	relayed.HopCount = 5
	if err := b.Insert(relayed); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Insert relayed = %v, want ErrBufferFull", err)
	}
}

func TestZeroCapacity(t *testing.T) {
	b := New(0)
	if err := b.Insert(entry(1, time.Minute)); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Insert = %v, want ErrBufferFull", err)
	}
}

func TestEvictExpired(t *testing.T) {
	b := New(16)
	for i := uint64(1); i <= 10; i++ {
		_ = b.Insert(entry(i, time.Duration(i)*time.Second))
	}
	now := t0.Add(4 * time.Second)
	gone := b.EvictExpired(now)
	if len(gone) != 4 {
		t.Fatalf("evicted %d, want 4", len(gone))
	}
	for _, e := range gone {
		if e.ExpiresAt.After(now) {
			t.Fatalf("evicted unexpired entry %d", e.ID)
		}
	}
	for _, e := range b.Entries() {
		if !e.ExpiresAt.After(now) {
			t.Fatalf("expired entry %d survived", e.ID)
		}
	}
	if b.Len() != 6 {
		t.Fatalf("Len = %d, want 6", b.Len())
	}
}

func TestCapacityInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New(16)
	for i := 0; i < 2000; i++ {
		e := entry(uint64(rng.Intn(500)), time.Duration(rng.Intn(300))*time.Second)
		e.Priority = uint32(rng.Intn(12))
		e.HopCount = uint32(rng.Intn(8))
		_ = b.Insert(e)
		if b.Len() > b.Cap() {
			t.Fatalf("Len %d exceeds capacity %d after %d inserts", b.Len(), b.Cap(), i+1)
		}
		if i%100 == 0 {
			b.EvictExpired(t0.Add(time.Duration(rng.Intn(300)) * time.Second))
		}
	}
}

func TestRemoveFunc(t *testing.T) {
	b := New(8)
	for i := uint64(1); i <= 6; i++ {
		e := entry(i, time.Minute)
		e.Priority = uint32(i)
		_ = b.Insert(e)
	}
	n := b.RemoveFunc(func(e Entry) bool { return e.Priority < 4 })
	if n != 3 || b.Len() != 3 {
		t.Fatalf("RemoveFunc removed %d (len %d), want 3 (3)", n, b.Len())
	}
}

func TestSummaryVectorDiff(t *testing.T) {
	a := SummaryVector{1, 2, 3, 4}
	b := SummaryVector{3, 4, 5}
	if got := a.Diff(b); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("a-b = %v, want [1 2]", got)
	}
	if got := b.Diff(a); len(got) != 1 || got[0] != 5 {
		t.Fatalf("b-a = %v, want [5]", got)
	}
	if got := Normalize([]uint64{5, 5, 1, 5, 2, 1}); len(got) != 3 || got[0] != 5 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("Normalize = %v", got)
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	b := New(64)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := uint64(g*1000 + i)
				_ = b.Insert(entry(id, time.Duration(i)*time.Second))
				b.Get(id)
				b.SummaryVector()
				if i%7 == 0 {
					b.Remove(id)
				}
				if i%50 == 0 {
					b.EvictExpired(t0.Add(time.Duration(i) * time.Second))
				}
			}
		}(g)
	}
	wg.Wait()
	if b.Len() > b.Cap() {
		t.Fatalf("Len %d exceeds capacity", b.Len())
	}
}
