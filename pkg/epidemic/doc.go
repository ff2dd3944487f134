// Package epidemic runs the anti-entropy exchange between two nodes in
// contact.
//
// The node that heard a beacon sends REPLY with its summary vector. The peer
// answers REPLY_BACK with its own vector and immediately pushes the packets
// the initiator lacks; on REPLY_BACK the initiator pushes the packets the
// peer lacks. When both sides send REPLY at once, the node with the smaller
// address keeps the initiator role and the other one answers.
//
// Each candidate packet passes the hop budget and the forwarding gate before
// it is sent with its hop count incremented. A failed send abandons the round;
// the next beacon contact retries it.
package epidemic
