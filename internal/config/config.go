package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// MinSecretLength はTOKEN_SECRETとPAYLOAD_SECRETの最小バイト数。
const MinSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string
	StoreTimeout time.Duration

	// Secrets
	TokenSecret   string
	PayloadSecret string

	// Session
	SessionMaxAge          int
	SessionExtendThreshold time.Duration

	// Navigation cache
	RedisURL           string
	NavigationCacheTTL time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int
	// TrustProxyHeaders はX-Forwarded-For等をクライアントIPとして信頼するか
	TrustProxyHeaders bool

	// Profile image
	ProfileImageProbe        bool
	ProfileImageProbeTimeout time.Duration

	// Cleanup worker
	SessionRetentionDays int
	CleanupInterval      time.Duration

	// Server
	ServerPort string
	BaseURL    string
	AppEnv     string
	StaticDir  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}

	cfg.PayloadSecret = os.Getenv("PAYLOAD_SECRET")
	if cfg.PayloadSecret == "" {
		missing = append(missing, "PAYLOAD_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.TokenSecret) < MinSecretLength {
		return nil, fmt.Errorf("TOKEN_SECRET must be at least %d bytes", MinSecretLength)
	}
	if len(cfg.PayloadSecret) < MinSecretLength {
		return nil, fmt.Errorf("PAYLOAD_SECRET must be at least %d bytes", MinSecretLength)
	}
	if cfg.TokenSecret == cfg.PayloadSecret {
		return nil, fmt.Errorf("TOKEN_SECRET and PAYLOAD_SECRET must differ")
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 3*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionExtendThreshold = getEnvDuration("SESSION_EXTEND_THRESHOLD", 15*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.NavigationCacheTTL = getEnvDuration("NAVIGATION_CACHE_TTL", 10*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.ProfileImageProbe = getEnvBool("PROFILE_IMAGE_PROBE", true)
	cfg.ProfileImageProbeTimeout = getEnvDuration("PROFILE_IMAGE_PROBE_TIMEOUT", 5*time.Second)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 7)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.StaticDir = getEnvString("STATIC_DIR", "./web/dist")
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive")
	}
	if err := validateCookieDomain(cfg.CookieDomain); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCookieDomain はCOOKIE_DOMAINがパブリックサフィックス（"com" や "co.jp"）でないことを確認する。
// パブリックサフィックスを指定したCookieはブラウザに拒否される。
func validateCookieDomain(domain string) error {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	if d == "" || d == "localhost" {
		return nil
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
		return fmt.Errorf("COOKIE_DOMAIN %q is not a registrable domain: %w", domain, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
