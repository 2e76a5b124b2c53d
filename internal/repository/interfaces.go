package repository

import (
	"context"
	"time"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
)

// RefreshTokenRepository persists rotating refresh tokens, one active row
// per (user, device).
type RefreshTokenRepository interface {
	// Upsert inserts the record or replaces the hash/expiry of the existing
	// (user, device) row. created_at is preserved on update.
	Upsert(ctx context.Context, record domain.RefreshToken) (domain.RefreshToken, error)
	GetByDeviceAndHash(ctx context.Context, deviceID, tokenHash string) (domain.RefreshToken, error)
	// Rotate swaps the stored hash only if it still matches oldHash, so of
	// two racing rotations exactly one succeeds. Returns whether a row changed.
	Rotate(ctx context.Context, id int64, oldHash, newHash string, lastUsedAt, expiresAt time.Time) (bool, error)
	// Revoke marks the (user, device) row revoked. Returns whether a row changed.
	Revoke(ctx context.Context, userID int64, deviceID string) (bool, error)
}

// UserStore is the external user-account collaborator: credential checks,
// creation, membership, and OAuth identity linking live there.
type UserStore interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (domain.User, error)
	// Authenticate accepts a username or email plus password.
	Authenticate(ctx context.Context, identifier, password string) (domain.User, error)
	Exists(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, reg domain.Registration) (domain.User, error)
	LinkGoogleID(ctx context.Context, userID int64, googleID string) error
	IsCommunityMember(ctx context.Context, userID int64) (bool, error)
	MarkOnboardingPending(ctx context.Context, userID int64) error
}
