package node

const deliveredMemory = 1024

// recentSet remembers the last size ids added.
type recentSet struct {
	seen map[uint64]struct{}
	ring []uint64
	next int
}

func newRecentSet(size int) *recentSet {
	return &recentSet{seen: make(map[uint64]struct{}, size), ring: make([]uint64, 0, size)}
}

// add reports whether id was new.
func (s *recentSet) add(id uint64) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, id)
	} else {
		delete(s.seen, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % len(s.ring)
	}
	s.seen[id] = struct{}{}
	return true
}

// energyLevel labels a ratio for operators; it is coarser than the
// adaptive bands and does not drive behaviour.
func energyLevel(ratio float64) string {
	switch {
	case ratio <= 0:
		return "DEPLETED"
	case ratio <= 0.2:
		return "CRITICAL"
	case ratio <= 0.4:
		return "LOW"
	case ratio <= 0.7:
		return "MODERATE"
	default:
		return "NORMAL"
	}
}
