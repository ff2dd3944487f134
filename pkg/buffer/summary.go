package buffer

// SummaryVector is the ordered, duplicate-free set of packet ids a node holds
// at the start of an exchange.
type SummaryVector []uint64

// Diff returns the ids of sv that other does not contain, keeping sv's order.
func (sv SummaryVector) Diff(other SummaryVector) []uint64 {
	have := make(map[uint64]struct{}, len(other))
	for _, id := range other {
		have[id] = struct{}{}
	}
	var out []uint64
	for _, id := range sv {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Normalize drops duplicate ids, keeping the first occurrence.
func Normalize(ids []uint64) SummaryVector {
	seen := make(map[uint64]struct{}, len(ids))
	out := make(SummaryVector, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
