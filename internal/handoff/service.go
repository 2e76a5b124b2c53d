// Package handoff brokers one-time browser handoff tokens: a trusted caller
// (the native app) requests a token bound to a user and destination URL, and
// a real browser redeems it once to bootstrap a cookie session.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

const keyPrefix = "ec:browser_handoff:"

// Store is the transient single-use backing store. GetDel must be atomic:
// of concurrent redemptions only one may observe the payload.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetDel(ctx context.Context, key string) ([]byte, error)
}

// Service creates and consumes handoff tokens.
type Service struct {
	store          Store
	ttl            time.Duration
	allowedDomains []string
}

// NewService constructs the handoff service with its domain allow-list.
func NewService(store Store, ttl time.Duration, allowedDomains []string) *Service {
	return &Service{store: store, ttl: ttl, allowedDomains: allowedDomains}
}

// Create stores a payload under a fresh opaque token with the configured TTL.
func (s *Service) Create(ctx context.Context, userID int64, redirectURL string) (string, error) {
	raw, err := token.NewOpaqueToken(48)
	if err != nil {
		return "", fmt.Errorf("generate handoff token: %w", err)
	}

	payload, err := json.Marshal(domain.HandoffPayload{
		UserID:      userID,
		RedirectURL: redirectURL,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode handoff payload: %w", err)
	}

	if err := s.store.Set(ctx, keyPrefix+raw, payload, s.ttl); err != nil {
		return "", fmt.Errorf("persist handoff payload: %w", err)
	}
	return raw, nil
}

// Consume redeems the token exactly once. Missing, expired, and malformed
// payloads all surface as ErrInvalidHandoffToken.
func (s *Service) Consume(ctx context.Context, rawToken string) (*domain.HandoffPayload, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return nil, domain.ErrInvalidHandoffToken
	}

	value, err := s.store.GetDel(ctx, keyPrefix+trimmed)
	if err != nil {
		return nil, fmt.Errorf("consume handoff token: %w", err)
	}
	if value == nil {
		return nil, domain.ErrInvalidHandoffToken
	}

	var payload domain.HandoffPayload
	if err := json.Unmarshal(value, &payload); err != nil || payload.UserID == 0 || payload.RedirectURL == "" {
		return nil, domain.ErrInvalidHandoffToken
	}
	return &payload, nil
}

// AllowedRedirect reports whether the redirect URL's host is an allow-listed
// domain or one of its subdomains. Suffix matching requires the dot boundary
// so "extrachill.com.evil.com" never passes.
func (s *Service) AllowedRedirect(redirectURL string) bool {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range s.allowedDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
