package key

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/bracha/crypto"
)

func TestPairTOMLRoundTrip(t *testing.T) {
	pair, err := NewKeyPair("127.0.0.1:8080", nil)
	require.NoError(t, err)
	require.Equal(t, crypto.DefaultSchemeID, pair.Scheme().Name)

	loaded := new(Pair)
	require.NoError(t, loaded.FromTOML(pair.TOML()))
	require.True(t, loaded.Public.Equal(pair.Public))
	require.True(t, loaded.Key.Equal(pair.Key))
	require.Equal(t, "127.0.0.1:8080", loaded.Public.Address())
}

func TestIdentityTOMLRoundTrip(t *testing.T) {
	pair, err := NewKeyPair("127.0.0.1:8081", nil)
	require.NoError(t, err)

	loaded := new(Identity)
	require.NoError(t, loaded.FromTOML(pair.Public.TOML()))
	require.True(t, loaded.Equal(pair.Public))
	require.NotEmpty(t, loaded.Hash())
}

func TestIdentityHashIgnoresAddress(t *testing.T) {
	pair, err := NewKeyPair("127.0.0.1:8082", nil)
	require.NoError(t, err)
	h1 := pair.Public.Hash()
	pair.Public.Addr = "10.0.0.1:9000"
	require.Equal(t, h1, pair.Public.Hash())
}
