package wire

import (
	"errors"
	"fmt"

	"go.dedis.ch/protobuf"
)

// Frame tags distinguish control framing from data framing.
const (
	TagControl byte = 0x01
	TagData    byte = 0x02
)

// MaxFrameSize bounds a decoded frame, payload included.
const MaxFrameSize = 1 << 20

var (
	ErrEmptyFrame  = errors.New("wire: empty frame")
	ErrFrameTooBig = errors.New("wire: frame too large")
	ErrBadTag      = errors.New("wire: unknown frame tag")
	ErrBadMessage  = errors.New("wire: malformed message")
)

func tagFor(t MsgType) byte {
	if t == MsgData {
		return TagData
	}
	return TagControl
}

func Encode(e *Envelope) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	body, err := protobuf.Encode(e)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", e.Type, err)
	}
	if len(body)+1 > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagFor(e.Type))
	return append(out, body...), nil
}

func Decode(b []byte) (*Envelope, error) {
	if len(b) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	tag := b[0]
	if tag != TagControl && tag != TagData {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadTag, tag)
	}
	var e Envelope
	if err := protobuf.Decode(b[1:], &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if tagFor(e.Type) != tag {
		return nil, fmt.Errorf("%w: %s under tag 0x%02x", ErrBadMessage, e.Type, tag)
	}
	if err := validate(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func validate(e *Envelope) error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrBadMessage)
	}
	if e.From == "" {
		return fmt.Errorf("%w: missing sender", ErrBadMessage)
	}
	switch e.Type {
	case MsgBeacon, MsgReply, MsgReplyBack:
	case MsgData:
		if e.Data == nil {
			return fmt.Errorf("%w: data message without packet", ErrBadMessage)
		}
	default:
		return fmt.Errorf("%w: type %d", ErrBadMessage, uint32(e.Type))
	}
	return nil
}
