package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"SERVER_PORT", "APP_VERSION", "LOG_LEVEL",
	"VENDOR_BASE_URL", "VENDOR_API_KEY", "VENDOR_TIMEOUT", "VENDOR_MAX_CONCURRENT",
	"CORS_ALLOWED_ORIGIN", "RATE_LIMIT_PER_MINUTE", "TRUST_PROXY_HEADERS",
	"PROXY_URL", "CLIENT_TIMEOUT", "STORE_URL", "STORE_NAMESPACE", "BOOKING_WINDOW_DAYS",
}

// clearEnv は全設定キーを空にし、デフォルト値が使われる状態にする。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", "/home/golfer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.AppVersion != "1.0.0" {
		t.Errorf("AppVersion = %q, want %q", cfg.AppVersion, "1.0.0")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.VendorBaseURL != "https://foreupsoftware.com" {
		t.Errorf("VendorBaseURL = %q, want %q", cfg.VendorBaseURL, "https://foreupsoftware.com")
	}
	if cfg.VendorAPIKey != "no_limits" {
		t.Errorf("VendorAPIKey = %q, want %q", cfg.VendorAPIKey, "no_limits")
	}
	if cfg.VendorTimeout != 15*time.Second {
		t.Errorf("VendorTimeout = %v, want %v", cfg.VendorTimeout, 15*time.Second)
	}
	if cfg.VendorMaxConcurrent != 4 {
		t.Errorf("VendorMaxConcurrent = %d, want %d", cfg.VendorMaxConcurrent, 4)
	}
	if cfg.CORSAllowedOrigin != "*" {
		t.Errorf("CORSAllowedOrigin = %q, want %q", cfg.CORSAllowedOrigin, "*")
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 120)
	}
	if cfg.TrustProxyHeaders {
		t.Error("TrustProxyHeaders はデフォルトでfalseであること")
	}
	if cfg.ProxyURL != "http://localhost:8080" {
		t.Errorf("ProxyURL = %q, want %q", cfg.ProxyURL, "http://localhost:8080")
	}
	if cfg.ClientTimeout != 20*time.Second {
		t.Errorf("ClientTimeout = %v, want %v", cfg.ClientTimeout, 20*time.Second)
	}
	if cfg.StoreURL != "sqlite:///home/golfer/.teebox/store.db" {
		t.Errorf("StoreURL = %q, want %q", cfg.StoreURL, "sqlite:///home/golfer/.teebox/store.db")
	}
	if cfg.StoreNamespace != "default" {
		t.Errorf("StoreNamespace = %q, want %q", cfg.StoreNamespace, "default")
	}
	if cfg.BookingWindowDays != 9 {
		t.Errorf("BookingWindowDays = %d, want %d", cfg.BookingWindowDays, 9)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("APP_VERSION", "2.3.4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("VENDOR_BASE_URL", "https://vendor.example.com/")
	t.Setenv("VENDOR_API_KEY", "key-1")
	t.Setenv("VENDOR_TIMEOUT", "5s")
	t.Setenv("VENDOR_MAX_CONCURRENT", "2")
	t.Setenv("CORS_ALLOWED_ORIGIN", "https://app.example.com")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("PROXY_URL", "https://proxy.example.com/")
	t.Setenv("CLIENT_TIMEOUT", "1m")
	t.Setenv("STORE_URL", "memory://")
	t.Setenv("STORE_NAMESPACE", "alice")
	t.Setenv("BOOKING_WINDOW_DAYS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.AppVersion != "2.3.4" {
		t.Errorf("AppVersion = %q, want %q", cfg.AppVersion, "2.3.4")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	// 末尾のスラッシュは取り除かれること
	if cfg.VendorBaseURL != "https://vendor.example.com" {
		t.Errorf("VendorBaseURL = %q, want %q", cfg.VendorBaseURL, "https://vendor.example.com")
	}
	if cfg.VendorAPIKey != "key-1" {
		t.Errorf("VendorAPIKey = %q, want %q", cfg.VendorAPIKey, "key-1")
	}
	if cfg.VendorTimeout != 5*time.Second {
		t.Errorf("VendorTimeout = %v, want %v", cfg.VendorTimeout, 5*time.Second)
	}
	if cfg.VendorMaxConcurrent != 2 {
		t.Errorf("VendorMaxConcurrent = %d, want %d", cfg.VendorMaxConcurrent, 2)
	}
	if cfg.CORSAllowedOrigin != "https://app.example.com" {
		t.Errorf("CORSAllowedOrigin = %q, want %q", cfg.CORSAllowedOrigin, "https://app.example.com")
	}
	if cfg.RateLimitPerMinute != 30 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 30)
	}
	if cfg.ProxyURL != "https://proxy.example.com" {
		t.Errorf("ProxyURL = %q, want %q", cfg.ProxyURL, "https://proxy.example.com")
	}
	if cfg.ClientTimeout != time.Minute {
		t.Errorf("ClientTimeout = %v, want %v", cfg.ClientTimeout, time.Minute)
	}
	if cfg.StoreURL != "memory://" {
		t.Errorf("StoreURL = %q, want %q", cfg.StoreURL, "memory://")
	}
	if cfg.StoreNamespace != "alice" {
		t.Errorf("StoreNamespace = %q, want %q", cfg.StoreNamespace, "alice")
	}
	if cfg.BookingWindowDays != 7 {
		t.Errorf("BookingWindowDays = %d, want %d", cfg.BookingWindowDays, 7)
	}
}

func TestLoad_UnparsableNumbers_FallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("VENDOR_TIMEOUT", "soon")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 120)
	}
	if cfg.VendorTimeout != 15*time.Second {
		t.Errorf("VendorTimeout = %v, want %v", cfg.VendorTimeout, 15*time.Second)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoad_InvalidValues_ReturnsError(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"VENDOR_BASE_URL", "ftp://vendor.example.com"},
		{"VENDOR_BASE_URL", "not a url"},
		{"PROXY_URL", "localhost:8080"},
		{"BOOKING_WINDOW_DAYS", "0"},
		{"VENDOR_MAX_CONCURRENT", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error = %q, want mention of %s", err.Error(), tt.key)
			}
		})
	}
}

func TestLoad_TrustProxyHeaders(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"yes-please", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("TRUST_PROXY_HEADERS", tt.value)
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			if cfg.TrustProxyHeaders != tt.want {
				t.Errorf("TrustProxyHeaders = %v, want %v", cfg.TrustProxyHeaders, tt.want)
			}
		})
	}
}
