// Package net provides the transport between broadcast nodes: a TCP router
// maintaining one authenticated connection per peer, delivering opaque
// payloads in per-peer FIFO order.
package net

import "context"

// Inbound is one payload received from a peer, tagged with the sender
// address established during the connection handshake.
type Inbound struct {
	Src  string
	Data []byte
}

// Transport is the interface the protocol runtime consumes. Payloads are
// delivered at-most-once, without corruption, in per-source FIFO order; they
// may be lost or delayed.
type Transport interface {
	// Send delivers the payload to the node at the given address.
	Send(ctx context.Context, dst string, data []byte) error
	// Incoming returns the stream of payloads received from all peers.
	Incoming() <-chan Inbound
	// Stop tears down every connection and stops listening.
	Stop()
}
