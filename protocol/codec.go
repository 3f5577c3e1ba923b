package protocol

import (
	"errors"
	"fmt"

	"go.dedis.ch/protobuf"
)

// ErrDecode is wrapped by every error returned from Unmarshal so callers can
// treat any malformed inbound buffer uniformly: drop the packet, continue.
var ErrDecode = errors.New("protocol: decode")

// Marshal encodes a packet with the self-describing binary encoding used on
// the wire.
func Marshal(p *Packet) ([]byte, error) {
	buff, err := protobuf.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return buff, nil
}

// Unmarshal decodes a buffer produced by Marshal.
func Unmarshal(buff []byte) (*Packet, error) {
	p := new(Packet)
	if err := protobuf.Decode(buff, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p, nil
}
