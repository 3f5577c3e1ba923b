// Package protocol defines the wire data model shared by the provable and
// reliable broadcast state machines: packets, the tagged message union and
// the record of cryptographic operations the machines are parameterized by.
package protocol

import "fmt"

// Packet is the global wrapper of all protocol messages exchanged between two
// nodes. Consumed marks whether a delivered packet has already been processed
// by a state machine, so a protocol transcript can be replayed or audited.
type Packet struct {
	Src      string
	Dst      string
	Msg      Msg
	Consumed bool
}

// Msg is the tagged union of every message the broadcast protocols exchange.
// Exactly one field is non-nil.
type Msg struct {
	// reliable broadcast
	Initial *Initial
	Echo    *Echo
	Vote    *Vote
	// provable broadcast
	Init    *Init
	Partial *Partial
}

// Initial carries the value an originator proposes for one of its rounds. The
// originator is implicit: it is the packet source.
type Initial struct {
	Round uint64
	Value string
}

// Echo is the re-broadcast claim of having seen an Initial from Origin.
type Echo struct {
	Origin string
	Round  uint64
	Value  string
}

// Vote is the re-broadcast claim of having witnessed sufficiently many
// echoes for the value proposed by Origin.
type Vote struct {
	Origin string
	Round  uint64
	Value  string
}

// Init opens a provable broadcast: the sender's value for the round and a
// proof witnessing authorship.
type Init struct {
	Round uint64
	Value string
	Proof []byte
}

// Partial is the provable broadcast echo, carrying the echoing node's partial
// signature over the sender's value.
type Partial struct {
	Round      uint64
	PartialSig []byte
}

// IsReliable returns true when the message belongs to the reliable broadcast
// protocol, false for provable broadcast messages.
func (m *Msg) IsReliable() bool {
	return m.Initial != nil || m.Echo != nil || m.Vote != nil
}

// IsProvable returns true when the message belongs to the provable broadcast
// protocol.
func (m *Msg) IsProvable() bool {
	return m.Init != nil || m.Partial != nil
}

func (m *Msg) String() string {
	switch {
	case m.Initial != nil:
		return fmt.Sprintf("initial{round: %d}", m.Initial.Round)
	case m.Echo != nil:
		return fmt.Sprintf("echo{origin: %s, round: %d}", m.Echo.Origin, m.Echo.Round)
	case m.Vote != nil:
		return fmt.Sprintf("vote{origin: %s, round: %d}", m.Vote.Origin, m.Vote.Round)
	case m.Init != nil:
		return fmt.Sprintf("init{round: %d}", m.Init.Round)
	case m.Partial != nil:
		return fmt.Sprintf("partial{round: %d}", m.Partial.Round)
	default:
		return "empty"
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s -> %s: %s", p.Src, p.Dst, p.Msg.String())
}

// Capability is the record of cryptographic operations supplied to the state
// machines at construction. Validation operations return plain booleans; a
// failed validation is a silent drop, never an error.
type Capability struct {
	// ValueBFT returns the value the given node proposes at the given round
	// together with a proof witnessing authorship. It must be deterministic
	// per (addr, round).
	ValueBFT func(addr string, round uint64) (string, []byte, error)
	// ExternallyValidate reports whether proof is a valid authorship proof
	// for value at round by the claimed originator.
	ExternallyValidate func(origin string, round uint64, value string, proof []byte) bool
	// PartiallySign produces this node's partial signature over (round, value).
	PartiallySign func(round uint64, value string) ([]byte, error)
	// PartiallyValidate reports whether partial is a valid partial signature
	// by src over (round, value).
	PartiallyValidate func(src string, round uint64, value string, partial []byte) bool
	// Combine aggregates at least threshold-many partial signatures over
	// (round, value) into a combined signature.
	Combine func(round uint64, value string, partials [][]byte) ([]byte, error)
}
