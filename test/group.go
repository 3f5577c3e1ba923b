// Package test offers the fixtures shared by the test suites: batches of
// identities with dealt threshold shares and free local addresses.
package test

import (
	"fmt"
	gonet "net"

	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"

	"github.com/drand/bracha/crypto"
	"github.com/drand/bracha/key"
)

// Addresses returns n distinct loopback addresses with unused ports. The
// ports are reserved by binding and releasing them, so a test should use
// them promptly.
func Addresses(n int) ([]string, error) {
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		l, err := gonet.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		addrs[i] = l.Addr().String()
		l.Close()
	}
	return addrs, nil
}

// LocalAddresses returns n placeholder addresses for tests that never touch
// the network.
func LocalAddresses(n int) []string {
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", 30000+i)
	}
	return addrs
}

// BatchIdentities generates a keypair per address, deals threshold shares
// for the corresponding group tolerating the given number of faults, and
// returns the group together with all private material.
func BatchIdentities(addrs []string, faults int) (*key.Group, []*key.Pair, []*key.Share, error) {
	sch := crypto.NewPedersenBLS()
	n := len(addrs)
	pairs := make([]*key.Pair, n)
	nodes := make([]*key.Identity, n)
	for i, addr := range addrs {
		pair, err := key.NewKeyPair(addr, sch)
		if err != nil {
			return nil, nil, nil, err
		}
		pairs[i] = pair
		nodes[i] = pair.Public
	}

	secret := sch.KeyGroup.Scalar().Pick(random.New())
	priPoly := share.NewPriPoly(sch.KeyGroup, n-faults, secret, random.New())
	pubPoly := priPoly.Commit(sch.KeyGroup.Point().Base())
	_, commits := pubPoly.Info()

	shares := make([]*key.Share, n)
	for i, priShare := range priPoly.Shares(n) {
		shares[i] = &key.Share{
			Scheme:  sch,
			Share:   priShare,
			Commits: commits,
		}
	}

	group, err := key.NewGroup(nodes, faults, &key.DistPublic{Coefficients: commits})
	if err != nil {
		return nil, nil, nil, err
	}
	return group, pairs, shares, nil
}
