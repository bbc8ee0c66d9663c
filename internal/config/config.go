// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Identity Serviceの実装名
const (
	IdentityProviderFirebase = "firebase"
	IdentityProviderLocal    = "local"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity Service
	IdentityProvider string // "firebase" または "local"
	FirebaseAPIKey   string
	IdentityBaseURL  string // Identity ToolkitのURL（エミュレータ利用時に上書き）
	IdentityTimeout  time.Duration

	// Profile
	DefaultAvatarURL    string
	ProfileFetchTimeout time.Duration

	// Client Session
	ClientSessionMaxAge      int // Cookieの有効期間（秒）
	ClientSessionIdleTimeout time.Duration

	// Listing
	DefaultPageSize int
	EventTimezone   *time.Location // カレンダー登録URLでイベント日時を解釈するタイムゾーン

	// Worker
	CleanupInterval time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.IdentityProvider = strings.ToLower(getEnvString("IDENTITY_PROVIDER", IdentityProviderFirebase))
	switch cfg.IdentityProvider {
	case IdentityProviderFirebase:
		cfg.FirebaseAPIKey = os.Getenv("FIREBASE_API_KEY")
		if cfg.FirebaseAPIKey == "" {
			missing = append(missing, "FIREBASE_API_KEY")
		}
	case IdentityProviderLocal:
	default:
		return nil, fmt.Errorf("unsupported IDENTITY_PROVIDER %q: must be %q or %q",
			cfg.IdentityProvider, IdentityProviderFirebase, IdentityProviderLocal)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	tz := getEnvString("EVENT_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_TIMEZONE %q: %w", tz, err)
	}
	cfg.EventTimezone = loc

	// Optional fields with defaults
	cfg.IdentityBaseURL = getEnvString("IDENTITY_BASE_URL", "")
	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 10*time.Second)
	cfg.DefaultAvatarURL = getEnvString("DEFAULT_AVATAR_URL", "")
	cfg.ProfileFetchTimeout = getEnvDuration("PROFILE_FETCH_TIMEOUT", 10*time.Second)
	cfg.ClientSessionMaxAge = getEnvInt("CLIENT_SESSION_MAX_AGE", 86400)
	cfg.ClientSessionIdleTimeout = getEnvDuration("CLIENT_SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.DefaultPageSize = getEnvInt("DEFAULT_PAGE_SIZE", 12)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は正の整数を読み込む。未設定・不正値・0以下の場合はデフォルト値を返す。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
