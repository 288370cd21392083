// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseJWTSecret  string
	OAuthRedirectURL   string
	ProviderTimeout    time.Duration
	ProviderMaxRetries int

	// Database
	DatabaseURL    string
	LocalStatePath string

	// Session
	EventDebounce time.Duration
	RoutesFile    string
	AvatarProbe   bool

	// Rate Limit
	RateLimitAuth int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string
	StaticDir  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.SupabaseURL = strings.TrimRight(required("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = required("SUPABASE_ANON_KEY")
	cfg.DatabaseURL = required("DATABASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if u, err := url.Parse(cfg.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("SUPABASE_URL must be an absolute URL: %q", cfg.SupabaseURL)
	}

	cfg.SupabaseJWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:3000"), "/")
	cfg.OAuthRedirectURL = getEnvString("OAUTH_REDIRECT_URL", cfg.BaseURL+"/auth/callback")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.LocalStatePath = getEnvString("LOCAL_STATE_PATH", "rovify-session.db")
	cfg.EventDebounce = getEnvDuration("EVENT_DEBOUNCE", 50*time.Millisecond)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ProviderMaxRetries = getEnvInt("PROVIDER_MAX_RETRIES", 2)
	cfg.RoutesFile = os.Getenv("ROUTES_FILE")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.AvatarProbe = getEnvBool("AVATAR_PROBE", false)
	cfg.StaticDir = os.Getenv("STATIC_DIR")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

// MaskDatabaseURL はログ出力用にパスワードを伏せたURLを返す。
// パースできない場合は全体を伏せる。
func MaskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
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
