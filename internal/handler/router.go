package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/teebox/internal/metrics"
	"github.com/hitoshi/teebox/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// ベンダー中継
	Vendor  VendorClient
	Sales   SaleFetcher
	Courses CourseLister

	AppVersion string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[RealIP] → StatusMetrics → Recovery → Logging → SecurityHeaders → CORS → RateLimit
//
// RealIPはTrustProxyHeadersが有効な場合のみ適用する。無効な場合、レート制限は接続元アドレスで行う。
// CORSがOPTIONSに204で応答するため、OPTIONSはパスを問わずルーティングまで到達しない。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		// X-Forwarded-For/X-Real-IPは前段のプロキシが設定した値であることが前提
		r.Use(chimw.RealIP)
	}
	// panic由来の500も記録対象
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	proxy := NewProxyHandler(deps.Vendor, deps.Sales, deps.Courses, collector, deps.Logger)
	health := NewHealthHandler(deps.AppVersion)

	// --- 認証不要のルート ---
	r.Get("/", health.Health)
	r.Get("/health", health.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", proxy.Login)
		r.Get("/courses", proxy.Courses)

		// --- Bearerトークンが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireAuthMiddleware())

			r.Get("/teetimes", proxy.TeeTimes)
			r.Post("/pending-reservation", proxy.PendingReservation)
			r.Post("/complete-reservation", proxy.CompleteReservation)
			r.Post("/sales", proxy.Sales)
		})
	})

	// 未定義のパスとメソッドはどちらも404として扱う
	notFound := func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteNotFound(w, r.URL.Path)
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r
}
