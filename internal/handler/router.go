package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/eventboard/internal/metrics"
	"github.com/hitoshi/eventboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions            middleware.SessionResolver
	ClientSessionConfig middleware.ClientSessionConfig
	CSRFConfig          middleware.CSRFConfig
	CORSAllowedOrigin   string
	RateLimiter         *middleware.RateLimiter
	Logger              *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer

	// アカウント
	AccountService AccountServiceInterface

	// イベント
	Events            EventReader
	EventAdminService EventAdminServiceInterface
	CalendarLocation  *time.Location
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → RateLimit(General) → ClientSession → Logging → Metrics → CSRF
//
// /health と /metrics はクライアントセッションを作らない。
// レート制限は接続元IP単位で、サインアップとサインインには認証用のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AccountService, collector)
	eventHandler := NewEventHandler(deps.Events, deps.EventAdminService, deps.CalendarLocation, collector)
	attendanceHandler := NewAttendanceHandler(collector)

	// --- クライアントセッション不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- クライアントセッションを使うルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewClientSessionMiddleware(deps.Sessions, deps.ClientSessionConfig))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewMetricsMiddleware(collector))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			// 認証
			r.Route("/auth", func(r chi.Router) {
				r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.SignUp)
				r.With(deps.RateLimiter.AuthMiddleware()).Post("/signin", authHandler.SignIn)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
				r.Post("/profile/refresh", authHandler.RefreshProfile)
			})

			// イベント
			r.Route("/api/events", func(r chi.Router) {
				r.Get("/", eventHandler.List)
				r.Post("/", eventHandler.Create)
				r.Get("/cities", eventHandler.Cities)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", eventHandler.Get)
					r.Patch("/", eventHandler.Update)
					r.Delete("/", eventHandler.Delete)
					r.Get("/calendar", eventHandler.Calendar)

					r.Get("/attendance", attendanceHandler.Get)
					r.Post("/attendance", attendanceHandler.Toggle)
				})
			})

			// 管理者
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/api/admin/users", authHandler.RegisterAdmin)
		})
	})

	return r
}
