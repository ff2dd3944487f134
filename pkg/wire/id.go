package wire

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// PacketID derives a network-wide packet id from the origin address and the
// origin's local sequence number. Sequence numbers are only unique per
// origin; hashing them together keeps summary vectors from different origins
// from colliding.
func PacketID(origin string, seq uint32) uint64 {
	var s [4]byte
	binary.BigEndian.PutUint32(s[:], seq)
	h := sha3.New256()
	_, _ = h.Write([]byte(origin))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(s[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
