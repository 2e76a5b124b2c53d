package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	SigningSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RefreshTokenBytes int
	HandoffTokenTTL   time.Duration
	HandoffDomains    []string
	RefreshRotateWait time.Duration
	GoogleClientID    string
	GoogleJWKSURL     string
	GoogleIssuers     string
	TurnstileSecret   string
	TurnstileURL      string
	ProfileBaseURL    string
	ServiceName       string
	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	secret := strings.TrimSpace(os.Getenv("AUTH_SIGNING_SECRET"))
	if secret == "" {
		return Config{}, fmt.Errorf("AUTH_SIGNING_SECRET is required")
	}

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		SigningSecret:     secret,
		AccessTokenTTL:    getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:   getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RefreshTokenBytes: getInt("REFRESH_TOKEN_BYTES", 32),
		HandoffTokenTTL:   getDuration("HANDOFF_TOKEN_TTL", time.Minute),
		HandoffDomains:    getList("HANDOFF_ALLOWED_DOMAINS", []string{"extrachill.com"}),
		RefreshRotateWait: getDuration("REFRESH_ROTATE_WINDOW", 5*time.Second),
		GoogleClientID:    os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleJWKSURL:     getEnv("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
		GoogleIssuers:     getEnv("GOOGLE_ISSUERS", "https://accounts.google.com,accounts.google.com"),
		TurnstileSecret:   os.Getenv("TURNSTILE_SECRET"),
		TurnstileURL:      getEnv("TURNSTILE_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		ProfileBaseURL:    getEnv("PROFILE_BASE_URL", "https://community.extrachill.com/u"),
		ServiceName:       getEnv("SERVICE_NAME", "extrachill-users"),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RefreshTokenBytes < 32 {
		cfg.RefreshTokenBytes = 32
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
