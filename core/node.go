// Package core holds the protocol runtime: it owns the state of both
// broadcast state machines, routes transport events into them, forwards the
// produced packets back out and keeps the local round bookkeeping.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/drand/bracha/log"
	"github.com/drand/bracha/metrics"
	"github.com/drand/bracha/net"
	"github.com/drand/bracha/protocol"
	"github.com/drand/bracha/protocol/pb"
	"github.com/drand/bracha/protocol/rb"
	"github.com/drand/bracha/store"
)

// ErrInvalidMembership is returned when the node's own address is not part
// of the configured cluster.
var ErrInvalidMembership = errors.New("core: node address not in cluster")

// Config gathers everything a node needs to participate in both broadcast
// protocols.
type Config struct {
	// Self is the address of this node; it must appear in Cluster.
	Self string
	// Cluster is the ordered list of all member addresses.
	Cluster []string
	// Faults is the number of tolerated faulty nodes. It fixes the provable
	// broadcast threshold at n - Faults; the reliable broadcast treats zero
	// as the classic floor((n-1)/3).
	Faults int
	// Crypto is the record of cryptographic operations, typically built by a
	// vault.
	Crypto *protocol.Capability
	// Values is the message-value store consulted by the provable broadcast
	// echo path.
	Values store.Store
	// Transport carries the packets between nodes.
	Transport net.Transport
	// Logger may be nil, in which case the default logger is used.
	Logger log.Logger
}

// Node is the runtime of one broadcast participant. All state transitions
// are serialized; transitions run to completion before the next event is
// dispatched.
type Node struct {
	sync.Mutex
	conf *Config
	l    log.Logger
	addr string

	rbcast  *rb.Broadcast
	rbState *rb.State
	pbcast  *pb.Broadcast
	pbState *pb.State

	// next unused reliable broadcast round of this node
	round uint64
	// next unused provable broadcast round of this node
	pbRound uint64

	values    store.Store
	callbacks *callbackStore
}

// NewNode validates the configuration and returns a ready node with empty
// protocol state.
func NewNode(conf *Config) (*Node, error) {
	l := conf.Logger
	if l == nil {
		l = log.DefaultLogger()
	}
	l = l.Named("node").With("addr", conf.Self)

	if !contains(conf.Cluster, conf.Self) {
		return nil, ErrInvalidMembership
	}
	if conf.Values == nil {
		return nil, errors.New("core: missing message-value store")
	}
	if conf.Transport == nil {
		return nil, errors.New("core: missing transport")
	}

	callbacks := newCallbackStore()
	rbcast, err := rb.NewBroadcast(&rb.Config{
		Cluster: conf.Cluster,
		Faults:  conf.Faults,
	}, func(origin string, round uint64, value string) {
		metrics.Deliveries.Inc()
		callbacks.notify(origin, round, value)
	}, l)
	if err != nil {
		return nil, err
	}
	rbState, err := rbcast.NewState(conf.Self)
	if err != nil {
		return nil, err
	}

	// the provable broadcast threshold must match the dealt share threshold,
	// so the configured fault count is passed through unresolved
	pbcast, err := pb.NewBroadcast(&pb.Config{
		Cluster: conf.Cluster,
		Faults:  conf.Faults,
	}, conf.Crypto, l)
	if err != nil {
		return nil, err
	}
	pbState, err := pbcast.NewState(conf.Self)
	if err != nil {
		return nil, err
	}

	return &Node{
		conf:      conf,
		l:         l,
		addr:      conf.Self,
		rbcast:    rbcast,
		rbState:   rbState,
		pbcast:    pbcast,
		pbState:   pbState,
		values:    conf.Values,
		callbacks: callbacks,
	}, nil
}

// Round returns the next unused reliable broadcast round of this node.
func (n *Node) Round() uint64 {
	n.Lock()
	defer n.Unlock()
	return n.round
}

// Propose offers a value at the next unused round. The round counter always
// advances, even when the round was already used through ProposeAt.
func (n *Node) Propose(ctx context.Context, value string) error {
	n.Lock()
	round := n.round
	n.round++
	n.Unlock()
	return n.ProposeAt(ctx, round, value)
}

// ProposeAt originates a reliable broadcast of value at an explicit round.
// Proposing twice at the same round is a no-op.
func (n *Node) ProposeAt(ctx context.Context, round uint64, value string) error {
	n.Lock()
	n.values.Put(n.addr, value)
	packets := n.rbcast.Propose(n.rbState, round, value)
	n.Unlock()
	n.l.Infow("proposing", "round", round)
	return n.dispatch(ctx, packets)
}

// ProvableSend opens a provable broadcast of value at this node's next
// unused provable round.
func (n *Node) ProvableSend(ctx context.Context, value string) error {
	n.Lock()
	round := n.pbRound
	n.pbRound++
	n.Unlock()
	return n.ProvableSendAt(ctx, round, value)
}

// ProvableSendAt opens a provable broadcast of value at an explicit round.
// Re-opening an already opened round is a no-op.
func (n *Node) ProvableSendAt(ctx context.Context, round uint64, value string) error {
	n.Lock()
	n.values.Put(n.addr, value)
	packets := n.pbcast.Send(n.pbState, round)
	n.Unlock()
	return n.dispatch(ctx, packets)
}

// Proof returns the combined threshold signature for one of this node's
// provable rounds, once enough partial signatures arrived.
func (n *Node) Proof(round uint64) ([]byte, bool) {
	n.Lock()
	defer n.Unlock()
	return n.pbState.Output(round)
}

// CheckDelivery returns the delivered value for the given originator and
// round if consensus was reached.
func (n *Node) CheckDelivery(origin string, round uint64) (string, bool) {
	n.Lock()
	defer n.Unlock()
	return n.rbState.Delivered(origin, round)
}

// OnDelivery registers a handler invoked once per (originator, round) when
// the value is first delivered.
func (n *Node) OnDelivery(id string, fn DeliveryFunc) {
	n.callbacks.add(id, fn)
}

// RemoveCallback unregisters a delivery handler.
func (n *Node) RemoveCallback(id string) {
	n.callbacks.remove(id)
}

// HandlePacket feeds one inbound packet to the owning state machine and
// forwards the produced packets. The packet is marked consumed before the
// transition runs.
func (n *Node) HandlePacket(ctx context.Context, p *protocol.Packet) error {
	if p.Dst != n.addr {
		metrics.PacketsDropped.WithLabelValues("misrouted").Inc()
		return fmt.Errorf("core: packet for %s handled by %s", p.Dst, n.addr)
	}
	n.Lock()
	p.Consumed = true
	var out []*protocol.Packet
	switch {
	case p.Msg.IsReliable():
		metrics.PacketsReceived.WithLabelValues("rb").Inc()
		out = n.rbcast.Process(n.rbState, p.Src, &p.Msg)
	case p.Msg.IsProvable():
		metrics.PacketsReceived.WithLabelValues("pb").Inc()
		var combined bool
		if p.Msg.Partial != nil {
			_, combined = n.pbState.Output(p.Msg.Partial.Round)
		}
		out = n.pbcast.Process(n.pbState, p.Src, &p.Msg)
		if p.Msg.Partial != nil && !combined {
			if _, ok := n.pbState.Output(p.Msg.Partial.Round); ok {
				metrics.Combines.Inc()
			}
		}
	default:
		metrics.PacketsDropped.WithLabelValues("empty").Inc()
	}
	n.Unlock()
	return n.dispatch(ctx, out)
}

// dispatch feeds self-addressed packets back to the state machines and hands
// the rest to the transport. A failed send only drops that packet: remaining
// echoes from other nodes can still drive delivery.
func (n *Node) dispatch(ctx context.Context, packets []*protocol.Packet) error {
	var errs *multierror.Error
	for _, p := range packets {
		if p.Dst == n.addr {
			// the proposer's own echoes and votes count like everyone else's
			if err := n.HandlePacket(ctx, p); err != nil {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		buff, err := protocol.Marshal(p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := n.conf.Transport.Send(ctx, p.Dst, buff); err != nil {
			metrics.SendFailures.Inc()
			n.l.Errorw("send failed", "to", p.Dst, "msg", p.Msg.String(), "err", err)
			errs = multierror.Append(errs, err)
			continue
		}
		metrics.PacketsSent.Inc()
	}
	if err := errs.ErrorOrNil(); err != nil {
		n.l.Debugw("dispatch incomplete", "err", err)
	}
	// send failures are not protocol failures
	return nil
}

// Run drives the node's event loop until the context is canceled or the
// transport's incoming stream closes. Exactly one event is dispatched at a
// time.
func (n *Node) Run(ctx context.Context) error {
	incoming := n.conf.Transport.Incoming()
	for {
		select {
		case <-ctx.Done():
			n.l.Debugw("event loop finished")
			return nil
		case in, ok := <-incoming:
			if !ok {
				return nil
			}
			p, err := protocol.Unmarshal(in.Data)
			if err != nil {
				metrics.PacketsDropped.WithLabelValues("decode").Inc()
				n.l.Errorw("dropping undecodable packet", "from", in.Src, "err", err)
				continue
			}
			// the transport authenticated the sender; its word wins
			if p.Src != in.Src {
				n.l.Debugw("packet source rewritten", "claimed", p.Src, "actual", in.Src)
				p.Src = in.Src
			}
			if err := n.HandlePacket(ctx, p); err != nil {
				n.l.Debugw("packet not handled", "from", in.Src, "err", err)
			}
		}
	}
}

func contains(list []string, addr string) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
