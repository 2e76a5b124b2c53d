// Package jwk converts RSA JSON Web Keys into PEM-encoded public keys.
//
// The DER structure is assembled by hand (RSAPublicKey sequence wrapped in a
// SubjectPublicKeyInfo) so the output is loadable by x509.ParsePKIXPublicKey
// without trusting the provider to publish anything beyond the raw modulus
// and exponent.
package jwk

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Key is a single RSA public key descriptor from a JWKS document.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Set is the top-level JWKS document shape.
type Set struct {
	Keys []Key `json:"keys"`
}

// AlgorithmIdentifier for rsaEncryption (OID 1.2.840.113549.1.1.1) with a
// NULL parameter, as it appears inside SubjectPublicKeyInfo.
var rsaAlgorithmIdentifier = []byte{
	0x30, 0x0d,
	0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01,
	0x05, 0x00,
}

// ToPEM builds a PEM "PUBLIC KEY" block from the key's modulus and exponent.
func ToPEM(key Key) ([]byte, error) {
	if key.N == "" || key.E == "" {
		return nil, fmt.Errorf("jwk missing modulus or exponent")
	}

	modulus, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return nil, fmt.Errorf("jwk missing modulus or exponent")
	}

	rsaPublicKey := asn1Sequence(append(asn1Integer(modulus), asn1Integer(exponent)...))

	// BIT STRING with zero unused bits.
	bitString := append([]byte{0x03}, asn1Length(len(rsaPublicKey)+1)...)
	bitString = append(bitString, 0x00)
	bitString = append(bitString, rsaPublicKey...)

	spki := asn1Sequence(append(append([]byte{}, rsaAlgorithmIdentifier...), bitString...))

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}), nil
}

// asn1Integer encodes a big-endian unsigned value as a DER INTEGER, adding a
// leading zero byte when the high bit is set so the value stays positive.
func asn1Integer(data []byte) []byte {
	for len(data) > 1 && data[0] == 0x00 && data[1] < 0x80 {
		data = data[1:]
	}
	if data[0] >= 0x80 {
		data = append([]byte{0x00}, data...)
	}
	out := append([]byte{0x02}, asn1Length(len(data))...)
	return append(out, data...)
}

func asn1Sequence(data []byte) []byte {
	out := append([]byte{0x30}, asn1Length(len(data))...)
	return append(out, data...)
}

func asn1Length(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v & 0xff)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}
