package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
)

// UserLookup is the slice of the external user store the token service needs:
// validation rejects tokens whose subject no longer exists.
type UserLookup interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

// AccessToken is a minted token together with its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Service mints and validates HMAC-signed access tokens. The signing secret
// is injected at construction and never read from ambient state.
type Service struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

// NewService constructs the access token service.
func NewService(secret string, ttl time.Duration, users UserLookup) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}
}

var headerSegment = EncodeSegment([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Generate mints a signed access token for the user/device pair.
func (s *Service) Generate(userID int64, deviceID string) AccessToken {
	now := s.now().UTC()
	expires := now.Add(s.ttl)

	claims := domain.AccessClaims{
		UserID:   userID,
		DeviceID: deviceID,
		IssuedAt: now.Unix(),
		Expiry:   expires.Unix(),
	}
	payload, _ := json.Marshal(claims)
	payloadSegment := EncodeSegment(payload)

	signingInput := headerSegment + "." + payloadSegment
	signature := EncodeSegment(s.sign(signingInput))

	return AccessToken{
		Token:     signingInput + "." + signature,
		ExpiresAt: expires,
	}
}

// Validate checks shape, signature, expiry, and subject existence. Every
// failure mode collapses into ErrInvalidAccessToken so callers cannot probe
// which check rejected the token.
func (s *Service) Validate(ctx context.Context, token string) (*domain.AccessClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, domain.ErrInvalidAccessToken
	}

	expected := EncodeSegment(s.sign(parts[0] + "." + parts[1]))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, domain.ErrInvalidAccessToken
	}

	payload, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, domain.ErrInvalidAccessToken
	}

	var claims domain.AccessClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, domain.ErrInvalidAccessToken
	}
	if claims.UserID == 0 || claims.Expiry == 0 {
		return nil, domain.ErrInvalidAccessToken
	}
	if claims.Expiry < s.now().Unix() {
		return nil, domain.ErrInvalidAccessToken
	}

	if _, err := s.users.GetByID(ctx, claims.UserID); err != nil {
		return nil, domain.ErrInvalidAccessToken
	}

	return &claims, nil
}

// HashRefreshToken derives the storable one-way hash of a raw refresh token.
// The raw value never touches the database.
func (s *Service) HashRefreshToken(raw string) string {
	return hex.EncodeToString(s.sign(raw))
}

func (s *Service) sign(data string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// NewOpaqueToken returns n random bytes as unpadded base64url, used for
// refresh and handoff tokens.
func NewOpaqueToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return EncodeSegment(buf), nil
}
