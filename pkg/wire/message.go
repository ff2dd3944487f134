package wire

import "fmt"

type MsgType uint32

const (
	MsgBeacon MsgType = iota + 1
	MsgReply
	MsgReplyBack
	MsgData
)

func (t MsgType) String() string {
	switch t {
	case MsgBeacon:
		return "BEACON"
	case MsgReply:
		return "REPLY"
	case MsgReplyBack:
		return "REPLY_BACK"
	case MsgData:
		return "DATA"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// Envelope is the single message shape on the wire. IDs is only set on
// summary vector messages, Data only on data messages.
type Envelope struct {
	Type MsgType
	From string
	IDs  []uint64
	Data *DataPacket
}

// DataPacket carries a buffered packet between two nodes. CreatedAt is unix
// nanoseconds at the origin.
type DataPacket struct {
	PacketID    uint64
	Origin      string
	Destination string
	HopCount    uint32
	CreatedAt   int64
	Priority    uint32
	Class       uint32
	Payload     []byte
}

func Beacon(from string) *Envelope {
	return &Envelope{Type: MsgBeacon, From: from}
}

// Summary builds a REPLY (first=true) or REPLY_BACK summary vector message.
func Summary(from string, ids []uint64, first bool) *Envelope {
	t := MsgReplyBack
	if first {
		t = MsgReply
	}
	return &Envelope{Type: t, From: from, IDs: ids}
}

func Data(from string, p DataPacket) *Envelope {
	return &Envelope{Type: MsgData, From: from, Data: &p}
}

func (e *Envelope) String() string {
	switch e.Type {
	case MsgReply, MsgReplyBack:
		return fmt.Sprintf("%s from=%s ids=%d", e.Type, e.From, len(e.IDs))
	case MsgData:
		if e.Data != nil {
			return fmt.Sprintf("%s from=%s packet=%d hops=%d", e.Type, e.From, e.Data.PacketID, e.Data.HopCount)
		}
	}
	return fmt.Sprintf("%s from=%s", e.Type, e.From)
}
