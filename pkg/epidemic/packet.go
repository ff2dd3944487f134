package epidemic

import (
	"time"

	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
	"github.com/ryandielhenn/zephyrdtn/pkg/wire"
)

// PayloadTransform may replace a multimedia payload before it is relayed in
// the low or critical band. ratio is the configured compression ratio.
type PayloadTransform func(payload []byte, ratio float64) []byte

// Identity leaves payloads untouched; the compression ratio then only
// shrinks the effective size used for energy accounting.
func Identity(payload []byte, _ float64) []byte { return payload }

// EffectiveSize scales size by ratio, never below one byte for non-empty
// payloads.
func EffectiveSize(size int, ratio float64) int {
	if size <= 0 {
		return 0
	}
	n := int(float64(size) * ratio)
	if n < 1 {
		n = 1
	}
	if n > size {
		n = size
	}
	return n
}

func ToWire(e buffer.Entry) wire.DataPacket {
	return wire.DataPacket{
		PacketID:    e.ID,
		Origin:      e.Origin,
		Destination: e.Destination,
		HopCount:    e.HopCount,
		CreatedAt:   e.CreatedAt.UnixNano(),
		Priority:    e.Priority,
		Class:       uint32(e.Class),
		Payload:     e.Payload,
	}
}

// FromWire rebuilds a buffer entry; expiry counts from the origin timestamp.
func FromWire(p wire.DataPacket, expire time.Duration) buffer.Entry {
	created := time.Unix(0, p.CreatedAt)
	class := buffer.Class(p.Class)
	prio := p.Priority
	if prio == 0 {
		prio = class.DefaultPriority()
	}
	return buffer.Entry{
		ID:          p.PacketID,
		Origin:      p.Origin,
		Destination: p.Destination,
		Payload:     p.Payload,
		HopCount:    p.HopCount,
		CreatedAt:   created,
		ExpiresAt:   created.Add(expire),
		Priority:    prio,
		Class:       class,
	}
}
