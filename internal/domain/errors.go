package domain

import "errors"

// Stable error vocabulary crossing the service boundary. Cryptographic
// failures and missing records share sentinels so callers cannot tell them
// apart.
var (
	// ErrInvalidRefreshToken covers unknown, tampered, and revoked refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
	// ErrRefreshTokenExpired signals the client must re-authenticate.
	ErrRefreshTokenExpired = errors.New("refresh_token_expired")
	// ErrInvalidAccessToken is the uniform access-token rejection.
	ErrInvalidAccessToken = errors.New("invalid_access_token")
	// ErrInvalidHandoffToken covers missing, expired, and already-consumed handoff tokens.
	ErrInvalidHandoffToken = errors.New("invalid_handoff_token")
	// ErrInvalidDeviceID rejects device ids that are not UUIDv4.
	ErrInvalidDeviceID = errors.New("invalid_device_id")
	// ErrInvalidCredentials covers wrong username/email or password.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	// ErrNotAMember signals the user is not part of the community property.
	ErrNotAMember = errors.New("extrachill_not_a_member")
	// ErrUserExists rejects duplicate registration.
	ErrUserExists = errors.New("user_exists")
	// ErrUserNotFound signals a missing user store record.
	ErrUserNotFound = errors.New("user_not_found")
)
