package crypto

import (
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"
)

func TestSchemeFromName(t *testing.T) {
	sch, err := SchemeFromName(DefaultSchemeID)
	require.NoError(t, err)
	require.Equal(t, DefaultSchemeID, sch.Name)

	def, err := GetSchemeByIDWithDefault("")
	require.NoError(t, err)
	require.Equal(t, sch.Name, def.Name)

	_, err = SchemeFromName("no-such-scheme")
	require.Error(t, err)
}

func TestDigestValueBinding(t *testing.T) {
	sch := NewPedersenBLS()
	d := sch.DigestValue(1, "hello")
	require.Len(t, d, 32)
	require.Equal(t, d, sch.DigestValue(1, "hello"))
	require.NotEqual(t, d, sch.DigestValue(2, "hello"))
	require.NotEqual(t, d, sch.DigestValue(1, "world"))
}

func TestAuthSchemeRoundTrip(t *testing.T) {
	sch := NewPedersenBLS()
	priv := sch.KeyGroup.Scalar().Pick(random.New())
	pub := sch.KeyGroup.Point().Mul(priv, nil)

	msg := sch.DigestValue(0, "value")
	sig, err := sch.AuthScheme.Sign(priv, msg)
	require.NoError(t, err)
	require.NoError(t, sch.AuthScheme.Verify(pub, msg, sig))
	require.Error(t, sch.AuthScheme.Verify(pub, sch.DigestValue(1, "value"), sig))
}
