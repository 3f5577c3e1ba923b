// Package pb implements the provable broadcast primitive: a single sender
// broadcasts a value with an authorship proof, every receiver answers with a
// partial signature over it, and the sender combines a threshold of distinct
// partials into a combined signature proving that enough nodes witnessed the
// value.
package pb

import (
	"bytes"
	"errors"

	"github.com/drand/bracha/log"
	"github.com/drand/bracha/protocol"
)

// Config groups the static parameters of a provable broadcast instance.
type Config struct {
	// Cluster is the ordered list of node addresses, this node included.
	Cluster []string
	// Faults is the number of tolerated faulty nodes.
	Faults int
}

// Threshold returns the number of distinct partial signatures needed to
// combine.
func (c *Config) Threshold() int {
	return len(c.Cluster) - c.Faults
}

func (c *Config) contains(addr string) bool {
	for _, a := range c.Cluster {
		if a == addr {
			return true
		}
	}
	return false
}

// slot identifies a broadcast by its sender and round.
type slot struct {
	origin string
	round  uint64
}

type echoEntry struct {
	value string
	proof []byte
}

type partialEntry struct {
	src string
	sig []byte
}

// State is the per-node provable broadcast state. It is mutated only by the
// Broadcast transition methods and owned by a single caller.
type State struct {
	addr string
	// rounds this node itself opened
	sent map[uint64]bool
	// per round, partial signatures received as sender, in insertion order
	counter map[uint64][]partialEntry
	// per round, the combined signature once the threshold was reached
	output map[uint64][]byte
	// (sender, round) pairs this node already echoed, with the echoed input
	echoed map[slot]echoEntry
}

// Sent returns whether this node opened the given round itself.
func (s *State) Sent(round uint64) bool {
	return s.sent[round]
}

// Output returns the combined signature for the given round if the threshold
// was reached.
func (s *State) Output(round uint64) ([]byte, bool) {
	sig, ok := s.output[round]
	return sig, ok
}

// Echoed returns the value this node echoed for the given sender and round,
// if any.
func (s *State) Echoed(origin string, round uint64) (string, bool) {
	e, ok := s.echoed[slot{origin, round}]
	return e.value, ok
}

// Partials returns how many distinct partial signatures were collected for
// the given round.
func (s *State) Partials(round uint64) int {
	return len(s.counter[round])
}

// Broadcast holds the transition logic of the provable broadcast protocol.
// It is stateless across calls; all mutable state lives in a State.
type Broadcast struct {
	conf   *Config
	crypto *protocol.Capability
	l      log.Logger
}

// NewBroadcast returns the provable broadcast state machine for the given
// cluster.
func NewBroadcast(conf *Config, c *protocol.Capability, l log.Logger) (*Broadcast, error) {
	if len(conf.Cluster) == 0 {
		return nil, errors.New("pb: empty cluster")
	}
	if conf.Faults < 0 || conf.Threshold() <= 0 {
		return nil, errors.New("pb: invalid fault tolerance")
	}
	return &Broadcast{
		conf:   conf,
		crypto: c,
		l:      l.Named("pb"),
	}, nil
}

// NewState returns a fresh state for the node at the given address.
func (b *Broadcast) NewState(addr string) (*State, error) {
	if !b.conf.contains(addr) {
		return nil, errors.New("pb: address not in cluster")
	}
	return &State{
		addr:    addr,
		sent:    make(map[uint64]bool),
		counter: make(map[uint64][]partialEntry),
		output:  make(map[uint64][]byte),
		echoed:  make(map[slot]echoEntry),
	}, nil
}

// Send opens the broadcast for the given round: it marks this node as the
// round's sender and produces the Init packets for the whole cluster, this
// node included. Re-sending an already opened round is a no-op.
func (b *Broadcast) Send(st *State, round uint64) []*protocol.Packet {
	if st.sent[round] {
		b.l.Debugw("already sent", "round", round)
		return nil
	}
	value, proof, err := b.crypto.ValueBFT(st.addr, round)
	if err != nil {
		b.l.Errorw("no value to send", "round", round, "err", err)
		return nil
	}
	st.sent[round] = true
	msg := protocol.Msg{Init: &protocol.Init{
		Round: round,
		Value: value,
		Proof: proof,
	}}
	return b.broadcast(st.addr, msg)
}

// Process applies one inbound message from src and returns the packets to
// transmit in response. Invalid, duplicate and out-of-role messages are
// silently dropped.
func (b *Broadcast) Process(st *State, src string, msg *protocol.Msg) []*protocol.Packet {
	switch {
	case msg.Init != nil:
		return b.processInit(st, src, msg.Init)
	case msg.Partial != nil:
		return b.processPartial(st, src, msg.Partial)
	default:
		b.l.Debugw("unexpected message", "from", src, "msg", msg.String())
		return nil
	}
}

func (b *Broadcast) processInit(st *State, src string, init *protocol.Init) []*protocol.Packet {
	// a sender does not echo its own round and a node echoes at most once
	if st.sent[init.Round] {
		return nil
	}
	if _, ok := st.echoed[slot{src, init.Round}]; ok {
		b.l.Debugw("duplicate init", "from", src, "round", init.Round)
		return nil
	}
	if !b.crypto.ExternallyValidate(src, init.Round, init.Value, init.Proof) {
		b.l.Debugw("invalid authorship proof", "from", src, "round", init.Round)
		return nil
	}
	partial, err := b.crypto.PartiallySign(init.Round, init.Value)
	if err != nil {
		b.l.Errorw("partial signature failed", "round", init.Round, "err", err)
		return nil
	}
	st.echoed[slot{src, init.Round}] = echoEntry{value: init.Value, proof: init.Proof}
	msg := protocol.Msg{Partial: &protocol.Partial{
		Round:      init.Round,
		PartialSig: partial,
	}}
	return []*protocol.Packet{{Src: st.addr, Dst: src, Msg: msg}}
}

func (b *Broadcast) processPartial(st *State, src string, partial *protocol.Partial) []*protocol.Packet {
	if !st.sent[partial.Round] {
		// we are not the sender for this round
		return nil
	}
	if _, ok := st.output[partial.Round]; ok {
		// already combined
		return nil
	}
	value, _, err := b.crypto.ValueBFT(st.addr, partial.Round)
	if err != nil {
		b.l.Errorw("own value lookup failed", "round", partial.Round, "err", err)
		return nil
	}
	if !b.crypto.PartiallyValidate(src, partial.Round, value, partial.PartialSig) {
		b.l.Debugw("invalid partial signature", "from", src, "round", partial.Round)
		return nil
	}
	entries := st.counter[partial.Round]
	for _, e := range entries {
		if e.src == src {
			// duplicates by src are rejected regardless of signature bytes
			if !bytes.Equal(e.sig, partial.PartialSig) {
				b.l.Debugw("conflicting partial from same source", "from", src, "round", partial.Round)
			}
			return nil
		}
	}
	st.counter[partial.Round] = append(entries, partialEntry{src: src, sig: partial.PartialSig})

	if len(st.counter[partial.Round]) == b.conf.Threshold() {
		partials := make([][]byte, 0, len(st.counter[partial.Round]))
		for _, e := range st.counter[partial.Round] {
			partials = append(partials, e.sig)
		}
		combined, err := b.crypto.Combine(partial.Round, value, partials)
		if err != nil {
			b.l.Errorw("combine failed", "round", partial.Round, "err", err)
			return nil
		}
		st.output[partial.Round] = combined
		b.l.Infow("combined signature ready", "round", partial.Round, "partials", len(partials))
	}
	return nil
}

func (b *Broadcast) broadcast(src string, msg protocol.Msg) []*protocol.Packet {
	packets := make([]*protocol.Packet, 0, len(b.conf.Cluster))
	for _, dst := range b.conf.Cluster {
		packets = append(packets, &protocol.Packet{Src: src, Dst: dst, Msg: msg})
	}
	return packets
}
