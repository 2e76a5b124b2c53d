package oauth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no Google client id is set.
	ErrNotConfigured = errors.New("google_not_configured")
	// ErrMissingClaim rejects identity tokens without sub or email.
	ErrMissingClaim = errors.New("missing_claim")
	// ErrEmailNotVerified rejects identities whose email Google has not verified.
	ErrEmailNotVerified = errors.New("email_not_verified")
)

// GoogleConfig holds the provider endpoints and client id.
type GoogleConfig struct {
	ClientID string
	JWKSURL  string
	// Issuers is comma-separated; Google publishes both the https and the
	// bare-host issuer string.
	Issuers string
}

// Identity is the consumed slice of a verified Google ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleVerifier validates Google ID tokens and extracts the identity.
type GoogleVerifier struct {
	cfg      GoogleConfig
	verifier *Verifier
}

// NewGoogleVerifier wires the RS256 verifier with Google's endpoints.
func NewGoogleVerifier(cfg GoogleConfig, verifier *Verifier) *GoogleVerifier {
	return &GoogleVerifier{cfg: cfg, verifier: verifier}
}

// VerifyIDToken validates the token and requires a verified email.
func (g *GoogleVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Identity, error) {
	if g.cfg.ClientID == "" {
		return nil, ErrNotConfigured
	}

	payload, err := g.verifier.Verify(ctx, idToken, g.cfg.JWKSURL, g.cfg.ClientID, g.cfg.Issuers)
	if err != nil {
		return nil, fmt.Errorf("google token verification: %w", err)
	}

	sub, _ := payload["sub"].(string)
	email, _ := payload["email"].(string)
	if sub == "" || email == "" {
		return nil, ErrMissingClaim
	}
	if verified, _ := payload["email_verified"].(bool); !verified {
		return nil, ErrEmailNotVerified
	}

	name, _ := payload["name"].(string)
	picture, _ := payload["picture"].(string)

	return &Identity{Subject: sub, Email: email, Name: name, Picture: picture}, nil
}
