package key

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/drand/bracha/crypto"
)

// Group holds all information about a cluster of broadcast nodes: the member
// identities in protocol order, the tolerated fault count and, once a dealer
// ran, the distributed public key backing the threshold signatures.
type Group struct {
	// List of identities forming this group
	Nodes []*Identity
	// Faults is the number of faulty nodes the cluster tolerates
	Faults int
	// Scheme indicates the cryptographic suite the group operates with
	Scheme *crypto.Scheme
	// The distributed public key of this group. It is nil if the group has
	// not been dealt threshold shares yet.
	PublicKey *DistPublic
}

// NewGroup returns the group formed by the given identities, tolerating the
// given number of faults.
func NewGroup(list []*Identity, faults int, public *DistPublic) (*Group, error) {
	if len(list) == 0 {
		return nil, errors.New("group: no identities given")
	}
	if faults < 0 || len(list)-faults < 1 {
		return nil, fmt.Errorf("group: invalid fault count %d for %d nodes", faults, len(list))
	}
	return &Group{
		Nodes:     list,
		Faults:    faults,
		Scheme:    list[0].Scheme,
		PublicKey: public,
	}, nil
}

// Len returns the number of nodes in the group.
func (g *Group) Len() int {
	return len(g.Nodes)
}

// Threshold returns the number of distinct partial signatures needed to
// combine a provable broadcast proof.
func (g *Group) Threshold() int {
	return g.Len() - g.Faults
}

// Contains returns true if the given identity is a member of the group.
func (g *Group) Contains(pub *Identity) bool {
	for _, n := range g.Nodes {
		if n.Equal(pub) {
			return true
		}
	}
	return false
}

// Index returns the protocol index of the given address, and whether the
// address is a member at all.
func (g *Group) Index(addr string) (int, bool) {
	for i, n := range g.Nodes {
		if n.Addr == addr {
			return i, true
		}
	}
	return -1, false
}

// Find returns the identity registered at the given address, or nil.
func (g *Group) Find(addr string) *Identity {
	for _, n := range g.Nodes {
		if n.Addr == addr {
			return n
		}
	}
	return nil
}

// Addresses returns the member addresses in protocol order.
func (g *Group) Addresses() []string {
	addrs := make([]string, g.Len())
	for i, n := range g.Nodes {
		addrs[i] = n.Addr
	}
	return addrs
}

// Hash returns a unique short representation of this group.
func (g *Group) Hash() (string, error) {
	h := g.Scheme.IdentityHash()
	for i, n := range g.Nodes {
		_ = binary.Write(h, binary.BigEndian, uint32(i))
		b, err := n.Key.MarshalBinary()
		if err != nil {
			return "", err
		}
		_, _ = h.Write(b)
	}
	_ = binary.Write(h, binary.BigEndian, uint32(g.Faults))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (g *Group) String() string {
	var b bytes.Buffer
	_ = toml.NewEncoder(&b).Encode(g.TOML())
	return b.String()
}

// GroupTOML is the TOML representation of a Group.
type GroupTOML struct {
	Nodes      []*PublicTOML
	Faults     int
	SchemeName string
	PublicKey  *DistPublicTOML
}

// TOML returns a TOML-encodable version of the Group.
func (g *Group) TOML() interface{} {
	gtoml := &GroupTOML{
		Faults:     g.Faults,
		SchemeName: g.Scheme.Name,
	}
	gtoml.Nodes = make([]*PublicTOML, g.Len())
	for i, n := range g.Nodes {
		gtoml.Nodes[i] = n.TOML().(*PublicTOML)
	}
	if g.PublicKey != nil {
		gtoml.PublicKey = g.PublicKey.TOML().(*DistPublicTOML)
	}
	return gtoml
}

// FromTOML decodes the group from the toml struct.
func (g *Group) FromTOML(i interface{}) error {
	gt, ok := i.(*GroupTOML)
	if !ok {
		return errors.New("grouptoml unknown")
	}
	sch, err := crypto.GetSchemeByIDWithDefault(gt.SchemeName)
	if err != nil {
		return err
	}
	g.Scheme = sch
	g.Faults = gt.Faults
	g.Nodes = make([]*Identity, len(gt.Nodes))
	for i, ptoml := range gt.Nodes {
		g.Nodes[i] = new(Identity)
		if err := g.Nodes[i].FromTOML(ptoml); err != nil {
			return fmt.Errorf("decoding node %d: %w", i, err)
		}
	}
	if g.Faults < 0 || g.Len()-g.Faults < 1 {
		return fmt.Errorf("group file has invalid fault count %d for %d nodes", g.Faults, g.Len())
	}
	if gt.PublicKey != nil {
		// dist key only present once a dealer ran
		g.PublicKey = new(DistPublic)
		if err := g.PublicKey.FromTOML(sch, gt.PublicKey); err != nil {
			return fmt.Errorf("decoding distributed public key: %w", err)
		}
	}
	return nil
}

// TOMLValue returns an empty TOML-compatible value of the group.
func (g *Group) TOMLValue() interface{} {
	return &GroupTOML{}
}
