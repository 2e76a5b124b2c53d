// Package refresh implements the rotating refresh-token lifecycle.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
	"github.com/Extra-Chill/extrachill-users/internal/repository"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

// Issued is a freshly minted raw refresh token and its expiry. The raw value
// exists only in this response; storage holds the hash.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Service issues, rotates, and revokes refresh tokens per (user, device).
type Service struct {
	repo       repository.RefreshTokenRepository
	tokens     *token.Service
	ttl        time.Duration
	tokenBytes int
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the rotation service.
func NewService(repo repository.RefreshTokenRepository, tokens *token.Service, ttl time.Duration, tokenBytes int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		repo:       repo,
		tokens:     tokens,
		ttl:        ttl,
		tokenBytes: tokenBytes,
		logger:     logger,
		now:        time.Now,
	}
}

// Issue creates a refresh token for the device, replacing any existing record
// for the same (user, device) pair. Upsert semantics keep the uniqueness
// invariant: at most one active row per device per user.
func (s *Service) Issue(ctx context.Context, userID int64, deviceID, deviceName string) (Issued, error) {
	raw, err := token.NewOpaqueToken(s.tokenBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)
	record := domain.RefreshToken{
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		TokenHash:  s.tokens.HashRefreshToken(raw),
		CreatedAt:  now,
		ExpiresAt:  expires,
	}

	if _, err := s.repo.Upsert(ctx, record); err != nil {
		return Issued{}, fmt.Errorf("persist refresh token: %w", err)
	}

	s.logger.Info("audit",
		zap.String("event", "refresh_token.issued"),
		zap.Int64("user_id", userID),
		zap.String("device_id", deviceID),
	)
	return Issued{Token: raw, ExpiresAt: expires}, nil
}

// Validate checks the presented raw token without touching the stored row
// and reports the owning user id. Callers that gate rotation on account
// state run this first so a rejected request leaves the token usable.
func (s *Service) Validate(ctx context.Context, rawToken, deviceID string) (int64, error) {
	record, err := s.lookupUsable(ctx, rawToken, deviceID)
	if err != nil {
		return 0, err
	}
	return record.UserID, nil
}

// Rotate validates the presented raw token and replaces it in place: new
// hash, extended expiry, cleared revocation. The conditional update in the
// store guarantees a captured token dies after one legitimate use.
func (s *Service) Rotate(ctx context.Context, rawToken, deviceID string) (int64, Issued, error) {
	record, err := s.lookupUsable(ctx, rawToken, deviceID)
	if err != nil {
		return 0, Issued{}, err
	}

	now := s.now().UTC()
	raw, err := token.NewOpaqueToken(s.tokenBytes)
	if err != nil {
		return 0, Issued{}, fmt.Errorf("generate refresh token: %w", err)
	}
	expires := now.Add(s.ttl)

	rotated, err := s.repo.Rotate(ctx, record.ID, s.tokens.HashRefreshToken(rawToken), s.tokens.HashRefreshToken(raw), now, expires)
	if err != nil {
		return 0, Issued{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		// A concurrent rotation won; this caller's hash is stale.
		return 0, Issued{}, domain.ErrInvalidRefreshToken
	}

	s.logger.Info("audit",
		zap.String("event", "refresh_token.rotated"),
		zap.Int64("user_id", record.UserID),
		zap.String("device_id", deviceID),
	)
	return record.UserID, Issued{Token: raw, ExpiresAt: expires}, nil
}

func (s *Service) lookupUsable(ctx context.Context, rawToken, deviceID string) (domain.RefreshToken, error) {
	hash := s.tokens.HashRefreshToken(rawToken)

	record, err := s.repo.GetByDeviceAndHash(ctx, deviceID, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RefreshToken{}, domain.ErrInvalidRefreshToken
		}
		return domain.RefreshToken{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	// Revoked is reported as invalid so a remotely logged-out device cannot
	// tell it was deliberately revoked.
	if record.RevokedAt != nil {
		return domain.RefreshToken{}, domain.ErrInvalidRefreshToken
	}
	if !record.ExpiresAt.After(s.now().UTC()) {
		return domain.RefreshToken{}, domain.ErrRefreshTokenExpired
	}
	return record, nil
}

// Revoke marks the device's refresh token revoked. Reports whether a row was
// affected.
func (s *Service) Revoke(ctx context.Context, userID int64, deviceID string) (bool, error) {
	revoked, err := s.repo.Revoke(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	if revoked {
		s.logger.Info("audit",
			zap.String("event", "refresh_token.revoked"),
			zap.Int64("user_id", userID),
			zap.String("device_id", deviceID),
		)
	}
	return revoked, nil
}
