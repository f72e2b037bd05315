package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 認証プロバイダーの種類
const (
	ProviderSupabase = "supabase"
	ProviderMemory   = "memory"
)

// トークン保存先の種類
const (
	TokenStoreMemory   = "memory"
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Provider
	Provider          string
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	ProviderTimeout   time.Duration
	ProviderSafeHTTP  bool

	// Local provider (PROVIDER=memory)
	LocalAuthSecret          string
	LocalRequireConfirmation bool

	// Token store
	TokenStore    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session
	SessionMaxAge      int
	SessionIdleTimeout time.Duration

	// Rate Limit
	RateLimitAuth    int
	RateLimitGeneral int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string
	// TrustProxy がtrueの場合はX-Forwarded-For等からクライアントIPを取得する
	TrustProxy bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.Provider = strings.ToLower(getEnvString("PROVIDER", ProviderSupabase))
	switch cfg.Provider {
	case ProviderSupabase:
		cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
		if cfg.SupabaseAnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	case ProviderMemory:
	default:
		return nil, fmt.Errorf("unsupported PROVIDER: %q", cfg.Provider)
	}

	cfg.TokenStore = strings.ToLower(getEnvString("TOKEN_STORE", TokenStoreMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.TokenStore {
	case TokenStoreMemory, TokenStoreRedis:
	case TokenStorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported TOKEN_STORE: %q", cfg.TokenStore)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SupabaseJWTSecret = getEnvString("SUPABASE_JWT_SECRET", "")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ProviderSafeHTTP = getEnvBool("PROVIDER_SAFE_CLIENT", strings.HasPrefix(cfg.SupabaseURL, "https://"))
	cfg.LocalAuthSecret = getEnvString("LOCAL_AUTH_SECRET", "local-development-secret")
	cfg.LocalRequireConfirmation = getEnvBool("LOCAL_REQUIRE_CONFIRMATION", false)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// RedirectURL はメール確認リンクの戻り先URLを返す。
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/callback"
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
