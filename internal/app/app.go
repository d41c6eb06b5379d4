package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/teebox/internal/catalog"
	"github.com/hitoshi/teebox/internal/config"
	"github.com/hitoshi/teebox/internal/database"
	"github.com/hitoshi/teebox/internal/foreup"
	"github.com/hitoshi/teebox/internal/handler"
	"github.com/hitoshi/teebox/internal/logger"
	"github.com/hitoshi/teebox/internal/metrics"
	"github.com/hitoshi/teebox/internal/middleware"
	"github.com/hitoshi/teebox/internal/security"
)

// ErrUnknownCommand はサポート外のサブコマンドが指定されたことを示す。
var ErrUnknownCommand = errors.New("unknown command")

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。クライアントコマンドの結果はstdoutに、ログはstderrに出力する。
func Run(stdout, stderr io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandUnknown:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	logWriter := stdout
	if cmd.IsClient() {
		logWriter = stderr
	}
	cfg, err := Init(logWriter)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandServe:
		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("port", cfg.ServerPort),
			slog.String("vendor_base_url", cfg.VendorBaseURL),
		)
		return runServe(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runClient(ctx, cfg, cmd, rest, stdout, stderr)
	}
}

// newProxyHandler はEdge Proxyの依存関係をワイヤリングしてルーターを返す。
// 返却する関数はレートリミッターのクリーンアップを停止する。
func newProxyHandler(cfg *config.Config, log *slog.Logger) (http.Handler, func(), error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load course catalog: %w", err)
	}

	guard, err := security.NewVendorGuard(cfg.VendorBaseURL)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	vendor := foreup.NewClient(guard.NewSafeClient(cfg.VendorTimeout), log, collector, cfg.VendorBaseURL, cfg.VendorAPIKey)
	sales := foreup.NewSaleBatch(vendor, log, cfg.VendorMaxConcurrent)
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitPerMinute), log)

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       limiter,
		Logger:            log,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		Vendor:            vendor,
		Sales:             sales,
		Courses:           cat,
		AppVersion:        cfg.AppVersion,
	})

	slog.Info("vendor guard configured", slog.String("vendor_host", guard.Host()))
	return router, limiter.Stop, nil
}

// runServe はEdge Proxyモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	router, stopLimiter, err := newProxyHandler(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer stopLimiter()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.VendorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("edge proxy starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down edge proxy...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("edge proxy stopped gracefully")
	return nil
}

// runMigrate はクライアントストアのマイグレーションを実行する。
// SQLiteとPostgreSQLのみ対象で、memoryとredisはスキーマを持たない。
func runMigrate(cfg *config.Config) error {
	slog.Info("running store migrations",
		slog.String("store_url", maskURL(cfg.StoreURL)),
	)

	migrationURL, err := migrationURLFor(cfg.StoreURL)
	if err != nil {
		return err
	}
	if migrationURL == "" {
		slog.Info("store has no schema, nothing to migrate")
		return nil
	}

	if strings.HasPrefix(migrationURL, "sqlite3://") {
		// 親ディレクトリの作成とWAL設定はOpenSQLiteに任せる
		db, err := database.OpenSQLite(strings.TrimPrefix(migrationURL, "sqlite3://"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		db.Close()
	}

	if err := database.RunMigrations(migrationURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("store migrations completed successfully")
	return nil
}

// migrationURLFor はSTORE_URLをgolang-migrateのURLに変換する。
// スキーマを持たないストアの場合は空文字を返す。
func migrationURLFor(storeURL string) (string, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return "", fmt.Errorf("invalid store URL: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return "", fmt.Errorf("invalid store URL: sqlite path is empty")
		}
		return database.SQLiteURL(path), nil
	case "postgres", "postgresql":
		return storeURL, nil
	case "memory", "redis", "rediss":
		return "", nil
	default:
		return "", fmt.Errorf("unsupported store URL scheme %q", u.Scheme)
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskURL はURLに含まれる認証情報をマスクする。
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
