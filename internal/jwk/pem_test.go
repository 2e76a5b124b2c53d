package jwk

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func keyFromRSA(t *testing.T, pub *rsa.PublicKey) Key {
	t.Helper()
	return Key{
		Kty: "RSA",
		Kid: "test-key",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// The hand-built DER must match what crypto/x509 produces for the same key.
func TestToPEMMatchesX509(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes, err := ToPEM(keyFromRSA(t, &priv.PublicKey))
	require.NoError(t, err)

	expectedDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	block, rest := pem.Decode(pemBytes)
	require.NotNil(t, block)
	require.Empty(t, rest)
	require.Equal(t, "PUBLIC KEY", block.Type)
	require.Equal(t, expectedDER, block.Bytes)
}

func TestToPEMParsesBack(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes, err := ToPEM(keyFromRSA(t, &priv.PublicKey))
	require.NoError(t, err)

	block, _ := pem.Decode(pemBytes)
	require.NotNil(t, block)

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)

	pub, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok)
	require.Zero(t, pub.N.Cmp(priv.PublicKey.N))
	require.Equal(t, priv.PublicKey.E, pub.E)
}

// Moduli start with a high bit more often than not; the INTEGER encoding must
// prepend a zero byte in that case and never otherwise. Exercise both via
// exponents with and without the high bit set.
func TestASN1IntegerLeadingZero(t *testing.T) {
	withHighBit := asn1Integer([]byte{0x80, 0x01})
	require.Equal(t, []byte{0x02, 0x03, 0x00, 0x80, 0x01}, withHighBit)

	withoutHighBit := asn1Integer([]byte{0x01, 0x00, 0x01})
	require.Equal(t, []byte{0x02, 0x03, 0x01, 0x00, 0x01}, withoutHighBit)

	redundantZeros := asn1Integer([]byte{0x00, 0x00, 0x01})
	require.Equal(t, []byte{0x02, 0x01, 0x01}, redundantZeros)
}

func TestToPEMRejectsIncompleteKey(t *testing.T) {
	_, err := ToPEM(Key{Kty: "RSA", N: "AQAB"})
	require.Error(t, err)

	_, err = ToPEM(Key{Kty: "RSA", E: "AQAB"})
	require.Error(t, err)

	_, err = ToPEM(Key{Kty: "RSA", N: "!!!", E: "AQAB"})
	require.Error(t, err)
}
