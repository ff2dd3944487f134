// Package wire defines the messages exchanged between zephyrdtn nodes:
// beacons announcing presence, summary vectors carrying the packet ids a
// node holds (REPLY starts the handshake, REPLY_BACK completes it) and data
// packets relayed hop by hop.
//
// Every frame starts with a one byte tag telling control traffic apart from
// data traffic, followed by a protobuf encoded Envelope:
//
//	b, _ := wire.Encode(wire.Beacon("node-1"))
//	env, _ := wire.Decode(b)
//
// Transports treat frames as opaque bytes.
package wire
