// Package oauth verifies third-party RS256 identity tokens against a
// provider's published JWKS.
package oauth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Extra-Chill/extrachill-users/internal/jwk"
	"github.com/Extra-Chill/extrachill-users/internal/jwks"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

// Each verification step fails with its own sentinel so callers can report
// actionable codes (expiry vs. audience vs. signature).
var (
	ErrInvalidToken        = errors.New("invalid_token")
	ErrInvalidAlgorithm    = errors.New("invalid_algorithm")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrTokenExpired        = errors.New("token_expired")
	ErrTokenNotValidYet    = errors.New("token_not_valid_yet")
	ErrInvalidAudience     = errors.New("invalid_audience")
	ErrInvalidIssuer       = errors.New("invalid_issuer")
	ErrKeyNotFound         = errors.New("key_not_found")
	ErrKeyConversionFailed = errors.New("key_conversion_failed")
	ErrInvalidSignature    = errors.New("invalid_signature")
)

const iatSkew = 5 * time.Minute

// Verifier validates RS256 identity tokens. All checks are local except the
// JWKS fetch.
type Verifier struct {
	jwks *jwks.Fetcher
	now  func() time.Time
}

// NewVerifier constructs a Verifier on top of a JWKS fetcher.
func NewVerifier(fetcher *jwks.Fetcher) *Verifier {
	return &Verifier{jwks: fetcher, now: time.Now}
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Verify checks signature, expiry, audience, and issuer of an RS256 token.
// issuer may be a comma-separated allow-list to cover providers that publish
// more than one issuer string.
func (v *Verifier) Verify(ctx context.Context, idToken, jwksURL, audience, issuer string) (map[string]any, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidToken
	}

	headerJSON, err := token.DecodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg != "RS256" {
		return nil, ErrInvalidAlgorithm
	}

	payloadJSON, err := token.DecodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil || payload == nil {
		return nil, ErrInvalidPayload
	}

	now := v.now().Unix()
	exp, ok := numericClaim(payload, "exp")
	if !ok || exp < now {
		return nil, ErrTokenExpired
	}
	if iat, ok := numericClaim(payload, "iat"); ok && iat > now+int64(iatSkew.Seconds()) {
		return nil, ErrTokenNotValidYet
	}

	if !audienceContains(payload["aud"], audience) {
		return nil, ErrInvalidAudience
	}

	iss, _ := payload["iss"].(string)
	if !issuerAllowed(iss, issuer) {
		return nil, ErrInvalidIssuer
	}

	keys, err := v.jwks.Fetch(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	key, found := jwks.FindKey(keys, header.Kid)
	if !found {
		return nil, ErrKeyNotFound
	}

	publicKey, err := loadRSAPublicKey(key)
	if err != nil {
		return nil, ErrKeyConversionFailed
	}

	signature, err := token.DecodeSegment(parts[2])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], signature); err != nil {
		return nil, ErrInvalidSignature
	}

	return payload, nil
}

func loadRSAPublicKey(key jwk.Key) (*rsa.PublicKey, error) {
	pemBytes, err := jwk.ToPEM(key)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no pem block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an rsa key")
	}
	return rsaKey, nil
}

func numericClaim(payload map[string]any, name string) (int64, bool) {
	switch v := payload[name].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func audienceContains(aud any, audience string) bool {
	switch v := aud.(type) {
	case string:
		return v == audience
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == audience {
				return true
			}
		}
	}
	return false
}

func issuerAllowed(iss, allowList string) bool {
	if iss == "" {
		return false
	}
	for _, candidate := range strings.Split(allowList, ",") {
		if strings.TrimSpace(candidate) == iss {
			return true
		}
	}
	return false
}
