// Package crypto defines the signature schemes backing the broadcast
// protocols: a threshold BLS scheme for partial-signature aggregation and a
// plain BLS scheme for authorship proofs.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/sign"

	// The package github.com/drand/kyber/sign/bls is deprecated because it is
	// vulnerable to a rogue public-key attack against aggregated signatures.
	// We only use simple signatures, never aggregation, so this is not an
	// issue here.
	//nolint:staticcheck
	signBls "github.com/drand/kyber/sign/bls"
	"github.com/drand/kyber/sign/tbls"
)

// Scheme represents the cryptographic schemes used by a broadcast group. The
// SigGroup and KeyGroup must be set consistently with the ThresholdScheme and
// the AuthScheme: keys on G1 and signatures on G2.
//
// Note: Scheme is not meant to be marshaled directly. Use SchemeFromName.
type Scheme struct {
	// The name of the scheme
	Name string
	// KeyGroup is the group used to create the keys
	KeyGroup kyber.Group
	// SigGroup is the group used to create the signatures; always distinct
	// from the KeyGroup
	SigGroup kyber.Group
	// ThresholdScheme issues and recovers the partial signatures exchanged
	// during a provable broadcast
	ThresholdScheme sign.ThresholdScheme
	// AuthScheme signs and verifies the authorship proofs attached to Init
	// messages
	AuthScheme sign.Scheme
	// the hash function used to identify public keys
	IdentityHash func() hash.Hash `toml:"-"`
	// DigestValue generates the bytes that are getting signed for a given
	// round and value
	DigestValue func(round uint64, value string) []byte `toml:"-"`
}

func (s *Scheme) String() string {
	if s != nil {
		return s.Name
	}
	return ""
}

// DefaultSchemeID is the default scheme ID.
const DefaultSchemeID = "pedersen-bls-broadcast"

// NewPedersenBLS instantiates the "pedersen-bls-broadcast" scheme: group
// public keys on G1 (48 bytes), partial and authorship signatures on G2
// (96 bytes), over BLS12-381.
func NewPedersenBLS() (cs *Scheme) {
	var Pairing = bls.NewBLS12381SuiteWithDST(
		[]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"), // default RFC9380 DST for G1
		[]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"), // default RFC9380 DST for G2
	)
	var KeyGroup = Pairing.G1()
	var SigGroup = Pairing.G2()
	var ThresholdScheme = tbls.NewThresholdSchemeOnG2(Pairing)
	var AuthScheme = signBls.NewSchemeOnG2(Pairing)
	var IdentityHashFunc = func() hash.Hash { h, _ := blake2b.New256(nil); return h }
	// the signed message binds the round number to the value bytes
	var DigestFunc = func(round uint64, value string) []byte {
		h := sha256.New()
		_ = binary.Write(h, binary.BigEndian, round)
		_, _ = h.Write([]byte(value))
		return h.Sum(nil)
	}

	return &Scheme{
		Name:            DefaultSchemeID,
		KeyGroup:        KeyGroup,
		SigGroup:        SigGroup,
		ThresholdScheme: ThresholdScheme,
		AuthScheme:      AuthScheme,
		IdentityHash:    IdentityHashFunc,
		DigestValue:     DigestFunc,
	}
}

// SchemeFromName returns the scheme of the given name or an error if it is
// unknown.
func SchemeFromName(schemeName string) (*Scheme, error) {
	switch schemeName {
	case DefaultSchemeID:
		return NewPedersenBLS(), nil
	default:
		return nil, fmt.Errorf("invalid scheme name '%s'", schemeName)
	}
}

// GetSchemeByIDWithDefault retrieves the scheme configuration by its ID,
// falling back to the default scheme when the ID is empty.
func GetSchemeByIDWithDefault(id string) (*Scheme, error) {
	if id == "" {
		id = DefaultSchemeID
	}
	return SchemeFromName(id)
}
