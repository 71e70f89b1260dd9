package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はゲートウェイ全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL string

	// Session
	SessionCookieName string

	// Guard
	AuthCheckTimeout time.Duration
	AdminPathPrefix  string
	LoginPath        string
	HomePath         string

	// Jobs
	JobTimeout    time.Duration
	StatusTimeout time.Duration

	// Proxy
	ProxyTimeout time.Duration

	// Rate Limit
	RateLimitLogin int

	// Logging
	LogLevel string

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
// 必須環境変数が未設定または不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendURL = os.Getenv("BACKEND_URL")
	if cfg.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	u, err := url.Parse(cfg.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("BACKEND_URL must be an absolute URL: %q", cfg.BackendURL)
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	// Optional fields with defaults
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "craveny_session")
	cfg.AuthCheckTimeout = getEnvDuration("AUTH_CHECK_TIMEOUT", 5*time.Second)
	cfg.AdminPathPrefix = getEnvString("ADMIN_PATH_PREFIX", "/admin")
	cfg.LoginPath = getEnvString("LOGIN_PATH", "/login")
	cfg.HomePath = getEnvString("HOME_PATH", "/")
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", 2*time.Minute)
	cfg.StatusTimeout = getEnvDuration("STATUS_TIMEOUT", 2*time.Second)
	cfg.ProxyTimeout = getEnvDuration("PROXY_TIMEOUT", 30*time.Second)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	if cfg.AuthCheckTimeout <= 0 {
		return nil, fmt.Errorf("AUTH_CHECK_TIMEOUT must be positive: %v", cfg.AuthCheckTimeout)
	}
	if !strings.HasPrefix(cfg.AdminPathPrefix, "/") {
		return nil, fmt.Errorf("ADMIN_PATH_PREFIX must start with '/': %q", cfg.AdminPathPrefix)
	}

	return cfg, nil
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
