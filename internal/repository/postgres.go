package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
)

// Compile-time interface assertions.
var (
	_ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
	_ UserStore              = (*PostgresUserStore)(nil)
)

// PostgresRefreshTokenRepo implements RefreshTokenRepository on pgx.
type PostgresRefreshTokenRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: pool, node: node}
}

const refreshTokenColumns = `id, user_id, device_id, device_name, refresh_token_hash, created_at, last_used_at, expires_at, revoked_at`

const upsertRefreshTokenSQL = `INSERT INTO extrachill_refresh_tokens
(id, user_id, device_id, device_name, refresh_token_hash, created_at, last_used_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $6, $7, NULL)
ON CONFLICT (user_id, device_id) DO UPDATE SET
	device_name = EXCLUDED.device_name,
	refresh_token_hash = EXCLUDED.refresh_token_hash,
	last_used_at = EXCLUDED.last_used_at,
	expires_at = EXCLUDED.expires_at,
	revoked_at = NULL
RETURNING ` + refreshTokenColumns

func (r *PostgresRefreshTokenRepo) Upsert(ctx context.Context, record domain.RefreshToken) (domain.RefreshToken, error) {
	var deviceName sql.NullString
	if record.DeviceName != "" {
		deviceName = sql.NullString{String: record.DeviceName, Valid: true}
	}

	row := r.db.QueryRow(ctx, upsertRefreshTokenSQL,
		r.node.Generate().Int64(),
		record.UserID,
		record.DeviceID,
		deviceName,
		record.TokenHash,
		record.CreatedAt,
		record.ExpiresAt,
	)
	stored, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("upsert refresh token: %w", err)
	}
	return stored, nil
}

const getRefreshTokenSQL = `SELECT ` + refreshTokenColumns + `
FROM extrachill_refresh_tokens
WHERE device_id = $1 AND refresh_token_hash = $2
LIMIT 1`

func (r *PostgresRefreshTokenRepo) GetByDeviceAndHash(ctx context.Context, deviceID, tokenHash string) (domain.RefreshToken, error) {
	row := r.db.QueryRow(ctx, getRefreshTokenSQL, deviceID, tokenHash)
	record, err := scanRefreshToken(row)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	return record, nil
}

// rotateRefreshTokenSQL matches on the pre-rotation hash so a stale caller
// updates zero rows instead of clobbering a concurrent rotation.
const rotateRefreshTokenSQL = `UPDATE extrachill_refresh_tokens
SET refresh_token_hash = $3, last_used_at = $4, expires_at = $5, revoked_at = NULL
WHERE id = $1 AND refresh_token_hash = $2`

func (r *PostgresRefreshTokenRepo) Rotate(ctx context.Context, id int64, oldHash, newHash string, lastUsedAt, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, rotateRefreshTokenSQL, id, oldHash, newHash, lastUsedAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const revokeRefreshTokenSQL = `UPDATE extrachill_refresh_tokens
SET revoked_at = $3
WHERE user_id = $1 AND device_id = $2 AND revoked_at IS NULL`

func (r *PostgresRefreshTokenRepo) Revoke(ctx context.Context, userID int64, deviceID string) (bool, error) {
	tag, err := r.db.Exec(ctx, revokeRefreshTokenSQL, userID, deviceID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (domain.RefreshToken, error) {
	var (
		record     domain.RefreshToken
		deviceName sql.NullString
		lastUsed   sql.NullTime
		revoked    sql.NullTime
	)
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.DeviceID,
		&deviceName,
		&record.TokenHash,
		&record.CreatedAt,
		&lastUsed,
		&record.ExpiresAt,
		&revoked,
	); err != nil {
		return domain.RefreshToken{}, err
	}
	record.DeviceName = deviceName.String
	record.LastUsedAt = nullableTime(lastUsed)
	record.RevokedAt = nullableTime(revoked)
	return record, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}

// PostgresUserStore implements UserStore against the platform users table.
type PostgresUserStore struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresUserStore(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserStore {
	return &PostgresUserStore{db: pool, node: node}
}

const userColumns = `id, username, email, display_name, password_hash, avatar_url, COALESCE(google_id, ''), created_at, updated_at`

func (s *PostgresUserStore) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresUserStore) GetByGoogleID(ctx context.Context, googleID string) (domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

func (s *PostgresUserStore) getUser(ctx context.Context, query string, arg any) (domain.User, error) {
	var user domain.User
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.GoogleID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Authenticate resolves identifier as a username or email and compares the
// bcrypt hash. Both failure modes return ErrInvalidCredentials.
func (s *PostgresUserStore) Authenticate(ctx context.Context, identifier, password string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	if strings.Contains(identifier, "@") {
		query = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	}
	user, err := s.getUser(ctx, query, identifier)
	if err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}

func (s *PostgresUserStore) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR lower(email) = lower($2))`,
		username, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}

const insertUserSQL = `INSERT INTO users
(id, username, email, display_name, password_hash, avatar_url, is_artist, is_professional, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, '', $6, $7, $8, $8)
RETURNING ` + userColumns

func (s *PostgresUserStore) Create(ctx context.Context, reg domain.Registration) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := reg.DisplayName
	if displayName == "" {
		displayName = reg.Username
	}

	row := s.db.QueryRow(ctx, insertUserSQL,
		s.node.Generate().Int64(),
		reg.Username,
		strings.ToLower(reg.Email),
		displayName,
		string(hash),
		reg.IsArtist,
		reg.IsProfessional,
		time.Now().UTC(),
	)

	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.GoogleID,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *PostgresUserStore) LinkGoogleID(ctx context.Context, userID int64, googleID string) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE users SET google_id = $2, oauth_linked_at = $3 WHERE id = $1`,
		userID, googleID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("link google id: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) IsCommunityMember(ctx context.Context, userID int64) (bool, error) {
	var member bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM community_members WHERE user_id = $1)`,
		userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("membership check: %w", err)
	}
	return member, nil
}

func (s *PostgresUserStore) MarkOnboardingPending(ctx context.Context, userID int64) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE users SET onboarding_pending = TRUE WHERE id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("mark onboarding: %w", err)
	}
	return nil
}
