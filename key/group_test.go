package key

import (
	"path"
	"testing"

	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/drand/bracha/crypto"
)

func makeGroup(t *testing.T, n, faults int) (*Group, []*Pair, []*Share) {
	t.Helper()
	sch := crypto.NewPedersenBLS()
	pairs := make([]*Pair, n)
	nodes := make([]*Identity, n)
	for i := 0; i < n; i++ {
		pair, err := NewKeyPair("127.0.0.1:300"+string(rune('0'+i)), sch)
		require.NoError(t, err)
		pairs[i] = pair
		nodes[i] = pair.Public
	}

	secret := sch.KeyGroup.Scalar().Pick(random.New())
	priPoly := share.NewPriPoly(sch.KeyGroup, n-faults, secret, random.New())
	_, commits := priPoly.Commit(sch.KeyGroup.Point().Base()).Info()
	shares := make([]*Share, n)
	for i, ps := range priPoly.Shares(n) {
		shares[i] = &Share{Scheme: sch, Share: ps, Commits: commits}
	}

	group, err := NewGroup(nodes, faults, &DistPublic{Coefficients: commits})
	require.NoError(t, err)
	return group, pairs, shares
}

func TestGroupTOMLRoundTrip(t *testing.T) {
	group, _, _ := makeGroup(t, 4, 1)

	loaded := new(Group)
	require.NoError(t, loaded.FromTOML(group.TOML()))
	require.Equal(t, group.Len(), loaded.Len())
	require.Equal(t, group.Faults, loaded.Faults)
	require.Equal(t, group.Threshold(), loaded.Threshold())
	for i, n := range group.Nodes {
		require.True(t, loaded.Nodes[i].Equal(n))
	}
	require.True(t, loaded.PublicKey.Key().Equal(group.PublicKey.Key()))

	h1, err := group.Hash()
	require.NoError(t, err)
	h2, err := loaded.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestGroupLookups(t *testing.T) {
	group, pairs, _ := makeGroup(t, 4, 1)

	require.True(t, group.Contains(pairs[2].Public))
	idx, ok := group.Index(pairs[2].Public.Addr)
	require.True(t, ok)
	require.Equal(t, 2, idx)
	require.NotNil(t, group.Find(pairs[0].Public.Addr))
	require.Nil(t, group.Find("10.1.2.3:444"))
	_, ok = group.Index("10.1.2.3:444")
	require.False(t, ok)
	require.Equal(t, group.Addresses()[3], pairs[3].Public.Addr)
}

func TestGroupInvalidFaults(t *testing.T) {
	sch := crypto.NewPedersenBLS()
	pair, err := NewKeyPair("127.0.0.1:3000", sch)
	require.NoError(t, err)

	_, err = NewGroup([]*Identity{pair.Public}, 1, nil)
	require.Error(t, err)
	_, err = NewGroup(nil, 0, nil)
	require.Error(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	group, pairs, shares := makeGroup(t, 4, 1)

	fileStore, err := NewFileStore(path.Join(dir, "node0"))
	require.NoError(t, err)

	require.NoError(t, fileStore.SaveKeyPair(pairs[0]))
	loadedPair, err := fileStore.LoadKeyPair()
	require.NoError(t, err)
	require.True(t, loadedPair.Public.Equal(pairs[0].Public))

	require.NoError(t, fileStore.SaveGroup(group))
	loadedGroup, err := fileStore.LoadGroup()
	require.NoError(t, err)
	require.Equal(t, group.Len(), loadedGroup.Len())

	require.NoError(t, fileStore.SaveShare(shares[0]))
	loadedShare, err := fileStore.LoadShare()
	require.NoError(t, err)
	require.Equal(t, shares[0].Index(), loadedShare.Index())
	require.True(t, loadedShare.Share.V.Equal(shares[0].Share.V))
	require.True(t, loadedShare.PubPoly().Commit().Equal(shares[0].PubPoly().Commit()))
}
