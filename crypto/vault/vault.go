// Package vault holds the cryptographic material a node needs at runtime and
// derives from it the record of operations the broadcast state machines are
// parameterized by.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drand/kyber/sign/tbls"

	"github.com/drand/bracha/crypto"
	"github.com/drand/bracha/key"
	"github.com/drand/bracha/log"
	"github.com/drand/bracha/protocol"
	"github.com/drand/bracha/store"
)

// Vault stores the information necessary to produce and validate authorship
// proofs and partial signatures. It is thread safe.
type Vault struct {
	sync.Mutex
	scheme *crypto.Scheme
	group  *key.Group
	pair   *key.Pair
	share  *key.Share
	values store.Store
	l      log.Logger
}

// NewVault returns a vault for the given node. The share may be nil when the
// node only participates in reliable broadcasts.
func NewVault(l log.Logger, group *key.Group, pair *key.Pair, sh *key.Share, values store.Store) (*Vault, error) {
	if group.Find(pair.Public.Addr) == nil {
		return nil, errors.New("vault: keypair not included in the given group")
	}
	return &Vault{
		scheme: group.Scheme,
		group:  group,
		pair:   pair,
		share:  sh,
		values: values,
		l:      l.Named("vault"),
	}, nil
}

// ValueAt returns the latest value proposed by the given address together
// with an authorship proof. Proofs are only valid when addr is this node.
func (v *Vault) ValueAt(addr string, round uint64) (string, []byte, error) {
	value, ok := v.values.Get(addr)
	if !ok {
		return "", nil, fmt.Errorf("vault: no value proposed by %s", addr)
	}
	proof, err := v.scheme.AuthScheme.Sign(v.pair.Key, v.scheme.DigestValue(round, value))
	if err != nil {
		return "", nil, fmt.Errorf("vault: proving authorship: %w", err)
	}
	return value, proof, nil
}

// VerifyProof reports whether proof is a valid authorship proof by origin
// over (round, value).
func (v *Vault) VerifyProof(origin string, round uint64, value string, proof []byte) bool {
	id := v.group.Find(origin)
	if id == nil {
		return false
	}
	err := v.scheme.AuthScheme.Verify(id.Key, v.scheme.DigestValue(round, value), proof)
	return err == nil
}

// SignPartial produces this node's partial signature over (round, value).
func (v *Vault) SignPartial(round uint64, value string) ([]byte, error) {
	v.Lock()
	defer v.Unlock()
	if v.share == nil {
		return nil, errors.New("vault: no threshold share")
	}
	return v.scheme.ThresholdScheme.Sign(v.share.PrivateShare(), v.scheme.DigestValue(round, value))
}

// VerifyPartial reports whether partial is a valid partial signature over
// (round, value) issued by the node at the claimed source address.
func (v *Vault) VerifyPartial(src string, round uint64, value string, partial []byte) bool {
	v.Lock()
	defer v.Unlock()
	if v.share == nil {
		return false
	}
	msg := v.scheme.DigestValue(round, value)
	if err := v.scheme.ThresholdScheme.VerifyPartial(v.share.PubPoly(), msg, partial); err != nil {
		return false
	}
	// the share index embedded in the signature must match the claimed source
	idx, err := tbls.SigShare(partial).Index()
	if err != nil {
		return false
	}
	srcIdx, ok := v.group.Index(src)
	if !ok || idx != srcIdx {
		v.l.Debugw("partial signature index mismatch", "src", src, "index", idx)
		return false
	}
	return true
}

// Combine aggregates the partial signatures over (round, value) into the
// combined group signature and verifies the result.
func (v *Vault) Combine(round uint64, value string, partials [][]byte) ([]byte, error) {
	v.Lock()
	defer v.Unlock()
	if v.share == nil {
		return nil, errors.New("vault: no threshold share")
	}
	msg := v.scheme.DigestValue(round, value)
	pub := v.share.PubPoly()
	sig, err := v.scheme.ThresholdScheme.Recover(pub, msg, partials, v.group.Threshold(), v.group.Len())
	if err != nil {
		return nil, fmt.Errorf("vault: recovering signature: %w", err)
	}
	if err := v.scheme.ThresholdScheme.VerifyRecovered(pub.Commit(), msg, sig); err != nil {
		return nil, fmt.Errorf("vault: recovered signature invalid: %w", err)
	}
	return sig, nil
}

// Capability returns the record of function handles the state machines are
// constructed with.
func (v *Vault) Capability() *protocol.Capability {
	return &protocol.Capability{
		ValueBFT:           v.ValueAt,
		ExternallyValidate: v.VerifyProof,
		PartiallySign:      v.SignPartial,
		PartiallyValidate:  v.VerifyPartial,
		Combine:            v.Combine,
	}
}
