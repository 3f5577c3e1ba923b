// Package key holds the longterm key material of a broadcast node: its
// keypair, its threshold share and the group file listing every member of
// the cluster.
package key

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/drand/bracha/crypto"
)

// Pair is a wrapper around a random scalar and the corresponding public
// identity.
type Pair struct {
	Key    kyber.Scalar
	Public *Identity
}

// Identity holds the public key of a node together with the internet facing
// address where the node can be reached.
type Identity struct {
	Key    kyber.Point
	Addr   string
	Scheme *crypto.Scheme
}

// Address returns the address at which the node is reachable.
func (i *Identity) Address() string {
	return i.Addr
}

func (i *Identity) String() string {
	return fmt.Sprintf("{%s - %s}", i.Addr, i.Key.String())
}

// Hash returns the hash of the public key. It does not hash the address
// field as this may change while the node keeps the same key.
func (i *Identity) Hash() []byte {
	h := i.Scheme.IdentityHash()
	_, _ = i.Key.MarshalTo(h)
	return h.Sum(nil)
}

// Equal indicates if two identities are equal.
func (i *Identity) Equal(i2 *Identity) bool {
	return i.Addr == i2.Addr && i.Key.Equal(i2.Key)
}

// Scheme returns the key's crypto Scheme.
func (p *Pair) Scheme() *crypto.Scheme {
	return p.Public.Scheme
}

// NewKeyPair returns a freshly created private / public key pair bound to the
// given address.
func NewKeyPair(address string, targetScheme *crypto.Scheme) (*Pair, error) {
	if targetScheme == nil {
		var err error
		targetScheme, err = crypto.GetSchemeByIDWithDefault("")
		if err != nil {
			return nil, err
		}
	}
	priv := targetScheme.KeyGroup.Scalar().Pick(random.New())
	pub := targetScheme.KeyGroup.Point().Mul(priv, nil)
	return &Pair{
		Key: priv,
		Public: &Identity{
			Key:    pub,
			Addr:   address,
			Scheme: targetScheme,
		},
	}, nil
}

// PairTOML is the TOML-able version of a private key.
type PairTOML struct {
	Address    string
	Key        string
	SchemeName string
}

// PublicTOML is the TOML-able version of a public key.
type PublicTOML struct {
	Address    string
	Key        string
	SchemeName string
}

// TOML returns a struct that can be marshaled using a TOML-encoding library.
func (p *Pair) TOML() interface{} {
	return &PairTOML{
		Address:    p.Public.Addr,
		Key:        ScalarToString(p.Key),
		SchemeName: p.Public.Scheme.Name,
	}
}

// FromTOML constructs the private key from an unmarshaled TOML structure.
func (p *Pair) FromTOML(i interface{}) error {
	ptoml, ok := i.(*PairTOML)
	if !ok {
		return errors.New("private can't decode toml from non PairTOML struct")
	}
	sch, err := crypto.GetSchemeByIDWithDefault(ptoml.SchemeName)
	if err != nil {
		return err
	}
	priv, err := StringToScalar(sch.KeyGroup, ptoml.Key)
	if err != nil {
		return fmt.Errorf("decoding private key: %w", err)
	}
	p.Key = priv
	p.Public = &Identity{
		Key:    sch.KeyGroup.Point().Mul(priv, nil),
		Addr:   ptoml.Address,
		Scheme: sch,
	}
	return nil
}

// TOMLValue returns an empty TOML-compatible interface value.
func (p *Pair) TOMLValue() interface{} {
	return &PairTOML{}
}

// TOML returns a TOML-compatible version of the public key.
func (i *Identity) TOML() interface{} {
	return &PublicTOML{
		Address:    i.Addr,
		Key:        PointToString(i.Key),
		SchemeName: i.Scheme.Name,
	}
}

// FromTOML reads the TOML description of the public key.
func (i *Identity) FromTOML(t interface{}) error {
	ptoml, ok := t.(*PublicTOML)
	if !ok {
		return errors.New("public can't decode from non PublicTOML struct")
	}
	sch, err := crypto.GetSchemeByIDWithDefault(ptoml.SchemeName)
	if err != nil {
		return err
	}
	i.Scheme = sch
	i.Key, err = StringToPoint(sch.KeyGroup, ptoml.Key)
	if err != nil {
		return fmt.Errorf("decoding public key: %w", err)
	}
	i.Addr = ptoml.Address
	return nil
}

// TOMLValue returns a TOML-compatible interface value.
func (i *Identity) TOMLValue() interface{} {
	return &PublicTOML{}
}

// ByKey sorts identities lexicographically by their marshaled public key.
type ByKey []*Identity

func (b ByKey) Len() int      { return len(b) }
func (b ByKey) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByKey) Less(i, j int) bool {
	is, _ := b[i].Key.MarshalBinary()
	js, _ := b[j].Key.MarshalBinary()
	return bytes.Compare(is, js) < 0
}

// PointToString returns a hex-encoded string representation of the given point.
func PointToString(p kyber.Point) string {
	buff, _ := p.MarshalBinary()
	return hex.EncodeToString(buff)
}

// ScalarToString returns a hex-encoded string representation of the given scalar.
func ScalarToString(s kyber.Scalar) string {
	buff, _ := s.MarshalBinary()
	return hex.EncodeToString(buff)
}

// StringToPoint unmarshals a point in the given group from the given string.
func StringToPoint(g kyber.Group, s string) (kyber.Point, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	p := g.Point()
	return p, p.UnmarshalBinary(buff)
}

// StringToScalar unmarshals a scalar in the given group from the given string.
func StringToScalar(g kyber.Group, s string) (kyber.Scalar, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	sc := g.Scalar()
	return sc, sc.UnmarshalBinary(buff)
}
