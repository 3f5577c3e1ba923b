package rb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/bracha/log"
	"github.com/drand/bracha/protocol"
)

// cluster is a set of nodes sharing one broadcast instance, with a packet
// queue standing in for the network. Packets are delivered in FIFO order
// until the schedule drains.
type cluster struct {
	t      *testing.T
	bcast  *Broadcast
	states map[string]*State
	queue  []*protocol.Packet
}

func newCluster(t *testing.T, addrs []string) *cluster {
	t.Helper()
	deliveries := make(map[string]int)
	b, err := NewBroadcast(&Config{Cluster: addrs}, func(origin string, round uint64, value string) {
		deliveries[origin]++
	}, log.DefaultLogger())
	require.NoError(t, err)
	states := make(map[string]*State, len(addrs))
	for _, addr := range addrs {
		st, err := b.NewState(addr)
		require.NoError(t, err)
		states[addr] = st
	}
	return &cluster{t: t, bcast: b, states: states}
}

// run delivers queued packets until quiescence, skipping nodes marked dead.
func (c *cluster) run(dead map[string]bool) {
	for len(c.queue) > 0 {
		p := c.queue[0]
		c.queue = c.queue[1:]
		if dead[p.Dst] {
			continue
		}
		st, ok := c.states[p.Dst]
		require.True(c.t, ok, "packet for unknown node %s", p.Dst)
		c.queue = append(c.queue, c.bcast.Process(st, p.Src, &p.Msg)...)
	}
}

func TestProposeBroadcastsInitial(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)

	packets := c.bcast.Propose(c.states["a"], 0, "hello")
	require.Len(t, packets, len(addrs))
	self := false
	for _, p := range packets {
		require.NotNil(t, p.Msg.Initial)
		require.Equal(t, "hello", p.Msg.Initial.Value)
		if p.Dst == "a" {
			self = true
		}
	}
	require.True(t, self, "the proposer sends the initial to itself too")

	// proposing the same round again is a no-op
	require.Empty(t, c.bcast.Propose(c.states["a"], 0, "hello"))
}

func TestHonestProposerEveryoneDelivers(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)

	c.queue = c.bcast.Propose(c.states["a"], 0, "hello")
	c.run(nil)

	for _, addr := range addrs {
		v, ok := c.states[addr].Delivered("a", 0)
		require.True(t, ok, "node %s did not deliver", addr)
		require.Equal(t, "hello", v)
	}
}

func TestSingletonClusterDelivers(t *testing.T) {
	c := newCluster(t, []string{"a"})
	c.queue = c.bcast.Propose(c.states["a"], 0, "solo")
	c.run(nil)

	v, ok := c.states["a"].Delivered("a", 0)
	require.True(t, ok)
	require.Equal(t, "solo", v)
}

func TestDuplicateInitialEchoesOnce(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)

	init := &protocol.Msg{Initial: &protocol.Initial{Round: 0, Value: "x"}}
	out := c.bcast.Process(c.states["b"], "a", init)
	require.Len(t, out, len(addrs), "one echo per cluster member")

	v, ok := c.states["b"].Echoed("a", 0)
	require.True(t, ok)
	require.Equal(t, "x", v)

	require.Empty(t, c.bcast.Process(c.states["b"], "a", init))
}

func TestByzantineEquivocationNobodyDelivers(t *testing.T) {
	// a faulty proposer splits the cluster between two values: neither half
	// can gather n-f echoes, so nobody votes and nobody delivers
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)
	dead := map[string]bool{"a": true}

	initX := &protocol.Msg{Initial: &protocol.Initial{Round: 0, Value: "x"}}
	initY := &protocol.Msg{Initial: &protocol.Initial{Round: 0, Value: "y"}}
	c.queue = append(c.queue, c.bcast.Process(c.states["b"], "a", initX)...)
	c.queue = append(c.queue, c.bcast.Process(c.states["c"], "a", initX)...)
	c.queue = append(c.queue, c.bcast.Process(c.states["d"], "a", initY)...)
	c.run(dead)

	for _, addr := range []string{"b", "c", "d"} {
		st := c.states[addr]
		_, voted := st.Voted("a", 0)
		require.False(t, voted, "node %s voted despite the split", addr)
		_, delivered := st.Delivered("a", 0)
		require.False(t, delivered, "node %s delivered despite the split", addr)
	}
}

func TestVoteAmplification(t *testing.T) {
	// f+1 votes let a node vote without having witnessed enough echoes
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)

	vote := func(src string) []*protocol.Packet {
		return c.bcast.Process(c.states["d"], src,
			&protocol.Msg{Vote: &protocol.Vote{Origin: "a", Round: 0, Value: "x"}})
	}
	require.Empty(t, vote("a"))
	out := vote("b")
	require.Len(t, out, len(addrs), "second vote meets f+1 and is amplified")
	for _, p := range out {
		require.NotNil(t, p.Msg.Vote)
		require.Equal(t, "x", p.Msg.Vote.Value)
	}
	v, ok := c.states["d"].Voted("a", 0)
	require.True(t, ok)
	require.Equal(t, "x", v)
}

func TestLateVoteAfterDelivery(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)
	st := c.states["c"]

	vote := func(src string) []*protocol.Packet {
		return c.bcast.Process(st, src,
			&protocol.Msg{Vote: &protocol.Vote{Origin: "a", Round: 0, Value: "x"}})
	}
	vote("a")
	vote("b")
	vote("d")
	v, ok := st.Delivered("a", 0)
	require.True(t, ok, "2f+1 votes deliver")
	require.Equal(t, "x", v)

	// a further vote changes nothing and emits nothing
	require.Empty(t, vote("c"))
	after, ok := st.Delivered("a", 0)
	require.True(t, ok)
	require.Equal(t, v, after)
	require.Equal(t, 4, st.Votes("a", 0, "x"))
}

func TestNoSpuriousDelivery(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)
	st := c.states["c"]

	for _, src := range []string{"a", "b"} {
		c.bcast.Process(st, src,
			&protocol.Msg{Vote: &protocol.Vote{Origin: "a", Round: 0, Value: "x"}})
	}
	_, ok := st.Delivered("a", 0)
	require.False(t, ok, "fewer than 2f+1 votes must not deliver")
}

func TestVoteIdempotent(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)
	st := c.states["c"]

	vote := &protocol.Msg{Vote: &protocol.Vote{Origin: "a", Round: 0, Value: "x"}}
	c.bcast.Process(st, "b", vote)
	c.bcast.Process(st, "b", vote)
	require.Equal(t, 1, st.Votes("a", 0, "x"))
	_, delivered := st.Delivered("a", 0)
	require.False(t, delivered)
}

func TestDeliverCallbackFiresOnce(t *testing.T) {
	addrs := []string{"a", "b", "c", "d"}
	var calls int
	b, err := NewBroadcast(&Config{Cluster: addrs}, func(origin string, round uint64, value string) {
		calls++
		require.Equal(t, "a", origin)
		require.Equal(t, uint64(0), round)
		require.Equal(t, "x", value)
	}, log.DefaultLogger())
	require.NoError(t, err)
	st, err := b.NewState("c")
	require.NoError(t, err)

	vote := func(src string) {
		b.Process(st, src, &protocol.Msg{Vote: &protocol.Vote{Origin: "a", Round: 0, Value: "x"}})
	}
	vote("a")
	vote("b")
	vote("d")
	vote("c")
	require.Equal(t, 1, calls)
}

func TestAgreementAcrossSchedules(t *testing.T) {
	// two proposers at their own rounds, all nodes must agree on both
	addrs := []string{"a", "b", "c", "d"}
	c := newCluster(t, addrs)

	c.queue = append(c.queue, c.bcast.Propose(c.states["a"], 0, "from-a")...)
	c.queue = append(c.queue, c.bcast.Propose(c.states["b"], 0, "from-b")...)
	c.run(nil)

	for _, addr := range addrs {
		va, ok := c.states[addr].Delivered("a", 0)
		require.True(t, ok)
		require.Equal(t, "from-a", va)
		vb, ok := c.states[addr].Delivered("b", 0)
		require.True(t, ok)
		require.Equal(t, "from-b", vb)
	}
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewBroadcast(&Config{Cluster: nil}, nil, log.DefaultLogger())
	require.Error(t, err)

	// 3f >= n is unsound
	_, err = NewBroadcast(&Config{Cluster: []string{"a", "b", "c"}, Faults: 1}, nil, log.DefaultLogger())
	require.Error(t, err)

	// a minority echo threshold is unsound
	_, err = NewBroadcast(&Config{Cluster: []string{"a", "b", "c", "d"}, EchoThreshold: 2}, nil, log.DefaultLogger())
	require.Error(t, err)
}
