package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string
	AppVersion string

	// Logging
	LogLevel slog.Level

	// Vendor
	VendorBaseURL       string
	VendorAPIKey        string
	VendorTimeout       time.Duration
	VendorMaxConcurrent int

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitPerMinute int
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For/X-Real-IPをクライアントIPとして扱う。
	// 前段にリバースプロキシがある構成でのみ有効にする。
	TrustProxyHeaders bool

	// Client
	ProxyURL          string
	ClientTimeout     time.Duration
	StoreURL          string
	StoreNamespace    string
	BookingWindowDays int
}

// Load は環境変数からConfigを読み込む。
// URL形式の設定値が不正な場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppVersion = getEnvString("APP_VERSION", "1.0.0")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.VendorBaseURL = strings.TrimRight(getEnvString("VENDOR_BASE_URL", "https://foreupsoftware.com"), "/")
	cfg.VendorAPIKey = getEnvString("VENDOR_API_KEY", "no_limits")
	cfg.VendorTimeout = getEnvDuration("VENDOR_TIMEOUT", 15*time.Second)
	cfg.VendorMaxConcurrent = getEnvInt("VENDOR_MAX_CONCURRENT", 4)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.ProxyURL = strings.TrimRight(getEnvString("PROXY_URL", "http://localhost:8080"), "/")
	cfg.ClientTimeout = getEnvDuration("CLIENT_TIMEOUT", 20*time.Second)
	cfg.StoreURL = getEnvString("STORE_URL", defaultStoreURL())
	cfg.StoreNamespace = getEnvString("STORE_NAMESPACE", "default")
	cfg.BookingWindowDays = getEnvInt("BOOKING_WINDOW_DAYS", 9)

	var invalid []string
	if !isHTTPURL(cfg.VendorBaseURL) {
		invalid = append(invalid, "VENDOR_BASE_URL")
	}
	if !isHTTPURL(cfg.ProxyURL) {
		invalid = append(invalid, "PROXY_URL")
	}
	if cfg.BookingWindowDays < 1 {
		invalid = append(invalid, "BOOKING_WINDOW_DAYS")
	}
	if cfg.VendorMaxConcurrent < 1 {
		invalid = append(invalid, "VENDOR_MAX_CONCURRENT")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

	return cfg, nil
}

// defaultStoreURL はホームディレクトリ配下のSQLiteファイルを既定のストアとする。
// ホームディレクトリが取得できない環境ではカレントディレクトリを使う。
func defaultStoreURL() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "sqlite://teebox.db"
	}
	return "sqlite://" + filepath.Join(home, ".teebox", "store.db")
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
