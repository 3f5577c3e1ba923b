// Package rb implements Bracha-style reliable broadcast: an originator
// broadcasts its value, every node re-broadcasts an echo, enough echoes
// trigger a vote, and enough votes make the value's delivery irrevocable on
// every correct node. Acknowledgement is by multiplicity, there is no
// signature aggregation.
package rb

import (
	"errors"

	"github.com/drand/bracha/log"
	"github.com/drand/bracha/protocol"
)

// DeliverFunc is invoked exactly once per (originator, round) when the value
// becomes delivered on this node.
type DeliverFunc func(origin string, round uint64, value string)

// Config groups the static parameters of a reliable broadcast instance.
type Config struct {
	// Cluster is the ordered list of node addresses, this node included.
	Cluster []string
	// Faults is the number of tolerated byzantine nodes. Zero means the
	// classic floor((n-1)/3).
	Faults int
	// EchoThreshold is the number of distinct echoes needed before voting.
	// Zero means n - f. Custom values must be a majority of the cluster.
	EchoThreshold int
}

func (c *Config) contains(addr string) bool {
	for _, a := range c.Cluster {
		if a == addr {
			return true
		}
	}
	return false
}

// slot identifies one broadcast: who originated it and at which round.
type slot struct {
	origin string
	round  uint64
}

// tally identifies one candidate value within a broadcast.
type tally struct {
	origin string
	round  uint64
	value  string
}

// State is the per-node reliable broadcast state, mutated only by the
// Broadcast transition methods.
type State struct {
	addr string
	// rounds this node itself originated
	sent map[uint64]bool
	// value this node echoed per (originator, round); at most one
	echoed map[slot]string
	// value this node voted for per (originator, round); at most one
	voted map[slot]string
	// irrevocable deliveries
	delivered map[slot]string
	// distinct witnesses per candidate value
	echoes map[tally]map[string]bool
	votes  map[tally]map[string]bool
}

// Delivered returns the delivered value for the given originator and round,
// if any.
func (s *State) Delivered(origin string, round uint64) (string, bool) {
	v, ok := s.delivered[slot{origin, round}]
	return v, ok
}

// Echoed returns the value this node echoed for the given originator and
// round, if any.
func (s *State) Echoed(origin string, round uint64) (string, bool) {
	v, ok := s.echoed[slot{origin, round}]
	return v, ok
}

// Voted returns the value this node voted for at the given originator and
// round, if any.
func (s *State) Voted(origin string, round uint64) (string, bool) {
	v, ok := s.voted[slot{origin, round}]
	return v, ok
}

// Echoes returns how many distinct nodes echoed the given candidate value.
func (s *State) Echoes(origin string, round uint64, value string) int {
	return len(s.echoes[tally{origin, round, value}])
}

// Votes returns how many distinct nodes voted for the given candidate value.
func (s *State) Votes(origin string, round uint64, value string) int {
	return len(s.votes[tally{origin, round, value}])
}

// Broadcast holds the transition logic of the reliable broadcast protocol.
type Broadcast struct {
	conf    *Config
	faults  int
	echoThr int
	deliver DeliverFunc
	l       log.Logger
}

// NewBroadcast returns the reliable broadcast state machine for the given
// cluster. The deliver callback may be nil.
func NewBroadcast(conf *Config, deliver DeliverFunc, l log.Logger) (*Broadcast, error) {
	n := len(conf.Cluster)
	if n == 0 {
		return nil, errors.New("rb: empty cluster")
	}
	faults := conf.Faults
	if faults == 0 {
		faults = (n - 1) / 3
	}
	if faults < 0 || 3*faults >= n {
		return nil, errors.New("rb: too many byzantine nodes for cluster size")
	}
	echoThr := conf.EchoThreshold
	if echoThr == 0 {
		echoThr = n - faults
	}
	if 2*echoThr <= n {
		return nil, errors.New("rb: echo threshold must be a cluster majority")
	}
	return &Broadcast{
		conf:    conf,
		faults:  faults,
		echoThr: echoThr,
		deliver: deliver,
		l:       l.Named("rb"),
	}, nil
}

// Faults returns the number of byzantine nodes the instance tolerates.
func (b *Broadcast) Faults() int {
	return b.faults
}

// NewState returns a fresh state for the node at the given address.
func (b *Broadcast) NewState(addr string) (*State, error) {
	if !b.conf.contains(addr) {
		return nil, errors.New("rb: address not in cluster")
	}
	return &State{
		addr:      addr,
		sent:      make(map[uint64]bool),
		echoed:    make(map[slot]string),
		voted:     make(map[slot]string),
		delivered: make(map[slot]string),
		echoes:    make(map[tally]map[string]bool),
		votes:     make(map[tally]map[string]bool),
	}, nil
}

// Propose originates a broadcast of value at the given round and returns the
// Initial packets for the whole cluster, this node included. Re-proposing an
// already originated round is a no-op.
func (b *Broadcast) Propose(st *State, round uint64, value string) []*protocol.Packet {
	if st.sent[round] {
		b.l.Debugw("already proposed", "round", round)
		return nil
	}
	st.sent[round] = true
	msg := protocol.Msg{Initial: &protocol.Initial{Round: round, Value: value}}
	return b.broadcast(st.addr, msg)
}

// Process applies one inbound message from src and returns the packets to
// transmit in response. Re-processing the same message leaves the state
// unchanged.
func (b *Broadcast) Process(st *State, src string, msg *protocol.Msg) []*protocol.Packet {
	switch {
	case msg.Initial != nil:
		return b.processInitial(st, src, msg.Initial)
	case msg.Echo != nil:
		return b.processEcho(st, src, msg.Echo)
	case msg.Vote != nil:
		return b.processVote(st, src, msg.Vote)
	default:
		b.l.Debugw("unexpected message", "from", src, "msg", msg.String())
		return nil
	}
}

func (b *Broadcast) processInitial(st *State, src string, init *protocol.Initial) []*protocol.Packet {
	s := slot{src, init.Round}
	if _, ok := st.echoed[s]; ok {
		b.l.Debugw("duplicate initial", "origin", src, "round", init.Round)
		return nil
	}
	st.echoed[s] = init.Value
	msg := protocol.Msg{Echo: &protocol.Echo{
		Origin: src,
		Round:  init.Round,
		Value:  init.Value,
	}}
	return b.broadcast(st.addr, msg)
}

func (b *Broadcast) processEcho(st *State, src string, echo *protocol.Echo) []*protocol.Packet {
	t := tally{echo.Origin, echo.Round, echo.Value}
	b.witness(st.echoes, t, src)

	s := slot{echo.Origin, echo.Round}
	if len(st.echoes[t]) < b.echoThr {
		return nil
	}
	if _, ok := st.voted[s]; ok {
		return nil
	}
	st.voted[s] = echo.Value
	msg := protocol.Msg{Vote: &protocol.Vote{
		Origin: echo.Origin,
		Round:  echo.Round,
		Value:  echo.Value,
	}}
	return b.broadcast(st.addr, msg)
}

func (b *Broadcast) processVote(st *State, src string, vote *protocol.Vote) []*protocol.Packet {
	t := tally{vote.Origin, vote.Round, vote.Value}
	b.witness(st.votes, t, src)

	s := slot{vote.Origin, vote.Round}
	count := len(st.votes[t])

	// vote amplification: f+1 votes prove at least one honest node voted,
	// so this node can vote without having seen enough echoes itself
	var out []*protocol.Packet
	if _, ok := st.voted[s]; !ok && count >= b.faults+1 {
		st.voted[s] = vote.Value
		msg := protocol.Msg{Vote: &protocol.Vote{
			Origin: vote.Origin,
			Round:  vote.Round,
			Value:  vote.Value,
		}}
		out = b.broadcast(st.addr, msg)
	}

	if _, ok := st.delivered[s]; !ok && count >= 2*b.faults+1 {
		st.delivered[s] = vote.Value
		b.l.Infow("delivered", "origin", vote.Origin, "round", vote.Round)
		if b.deliver != nil {
			b.deliver(vote.Origin, vote.Round, vote.Value)
		}
	}
	return out
}

// witness records src as a distinct witness of the candidate value. Counts
// only ever grow.
func (b *Broadcast) witness(counts map[tally]map[string]bool, t tally, src string) {
	set, ok := counts[t]
	if !ok {
		set = make(map[string]bool)
		counts[t] = set
	}
	set[src] = true
}

func (b *Broadcast) broadcast(src string, msg protocol.Msg) []*protocol.Packet {
	packets := make([]*protocol.Packet, 0, len(b.conf.Cluster))
	for _, dst := range b.conf.Cluster {
		packets = append(packets, &protocol.Packet{Src: src, Dst: dst, Msg: msg})
	}
	return packets
}
