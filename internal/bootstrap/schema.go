package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Schema statements are idempotent so restarts are safe. The users and
// community_members tables belong to the main site and are not created here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS extrachill_refresh_tokens (
	id bigint PRIMARY KEY,
	user_id bigint NOT NULL,
	device_id char(36) NOT NULL,
	device_name varchar(191),
	refresh_token_hash char(64) NOT NULL,
	created_at timestamptz NOT NULL,
	last_used_at timestamptz,
	expires_at timestamptz NOT NULL,
	revoked_at timestamptz,
	CONSTRAINT extrachill_refresh_tokens_user_device UNIQUE (user_id, device_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON extrachill_refresh_tokens (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON extrachill_refresh_tokens (expires_at)`,
}

// EnsureSchema creates the session tables on startup.
func EnsureSchema(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, pool, logger)
		},
	})
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	if logger != nil {
		logger.Info("schema ensured")
	}
	return nil
}
