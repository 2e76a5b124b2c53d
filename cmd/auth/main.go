package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/Extra-Chill/extrachill-users/internal/adapter/cache"
	captchaadapter "github.com/Extra-Chill/extrachill-users/internal/adapter/captcha"
	"github.com/Extra-Chill/extrachill-users/internal/bootstrap"
	"github.com/Extra-Chill/extrachill-users/internal/config"
	"github.com/Extra-Chill/extrachill-users/internal/domain"
	"github.com/Extra-Chill/extrachill-users/internal/handoff"
	httptransport "github.com/Extra-Chill/extrachill-users/internal/http"
	"github.com/Extra-Chill/extrachill-users/internal/http/handler"
	httpmiddleware "github.com/Extra-Chill/extrachill-users/internal/http/middleware"
	"github.com/Extra-Chill/extrachill-users/internal/identity"
	"github.com/Extra-Chill/extrachill-users/internal/jwks"
	"github.com/Extra-Chill/extrachill-users/internal/oauth"
	"github.com/Extra-Chill/extrachill-users/internal/refresh"
	"github.com/Extra-Chill/extrachill-users/internal/repository"
	"github.com/Extra-Chill/extrachill-users/internal/server"
	"github.com/Extra-Chill/extrachill-users/internal/telemetry"
	"github.com/Extra-Chill/extrachill-users/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newRedisStore,
			newRefreshTokenRepository,
			newUserStore,
			newTokenService,
			newRefreshService,
			newJWKSFetcher,
			newGoogleVerifier,
			newHandoffService,
			newCaptchaVerifier,
			identity.NewEvents,
			identity.NewService,
			newRateLimiter,
			newAuthMiddleware,
			handler.NewAuthHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, registerRegistrationHooks, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newRedisStore(client redis.UniversalClient) *cacheadapter.RedisStore {
	return cacheadapter.NewRedisStore(client)
}

func newRefreshTokenRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.RefreshTokenRepository {
	return repository.NewPostgresRefreshTokenRepo(pool, node)
}

func newUserStore(pool *pgxpool.Pool, node *snowflake.Node) repository.UserStore {
	return repository.NewPostgresUserStore(pool, node)
}

func newTokenService(cfg config.Config, users repository.UserStore) *token.Service {
	return token.NewService(cfg.SigningSecret, cfg.AccessTokenTTL, users)
}

func newRefreshService(repo repository.RefreshTokenRepository, tokens *token.Service, cfg config.Config, logger *zap.Logger) *refresh.Service {
	return refresh.NewService(repo, tokens, cfg.RefreshTokenTTL, cfg.RefreshTokenBytes, logger)
}

func newJWKSFetcher(store *cacheadapter.RedisStore, logger *zap.Logger) *jwks.Fetcher {
	return jwks.NewFetcher(nil, store, logger)
}

func newGoogleVerifier(cfg config.Config, fetcher *jwks.Fetcher) *oauth.GoogleVerifier {
	return oauth.NewGoogleVerifier(oauth.GoogleConfig{
		ClientID: cfg.GoogleClientID,
		JWKSURL:  cfg.GoogleJWKSURL,
		Issuers:  cfg.GoogleIssuers,
	}, oauth.NewVerifier(fetcher))
}

func newHandoffService(store *cacheadapter.RedisStore, cfg config.Config) *handoff.Service {
	return handoff.NewService(store, cfg.HandoffTokenTTL, cfg.HandoffDomains)
}

func newCaptchaVerifier(cfg config.Config) identity.CaptchaVerifier {
	return captchaadapter.NewTurnstileVerifier(cfg.TurnstileSecret, cfg.TurnstileURL, nil)
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewIPRateLimiter(cfg.RateLimitRPM)
}

func newAuthMiddleware(svc *identity.Service) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Validator: svc}
}

func registerRegistrationHooks(events *identity.Events, logger *zap.Logger) {
	events.OnUserRegistered(func(ctx context.Context, user domain.User) error {
		logger.Info("user registered",
			zap.Int64("user_id", user.ID),
			zap.String("username", user.Username),
		)
		return nil
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
