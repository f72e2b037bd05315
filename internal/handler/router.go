package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/alumniportal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション
	Stores        SessionStoreFinder
	SettleTimeout time.Duration

	// 画面
	Renderer *Renderer

	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder
	RateLimiter       *middleware.RateLimiter
	BrowserSession    middleware.BrowserSessionConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	SecureHeaders     bool
	TrustProxy        bool

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → [RealIP] → BrowserSession → Logging → RateLimit(General) → CSRF
//
// /health, /metrics, /static はブラウザセッションを発行しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecureHeaders))
	if deps.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}

	authHandler := NewAuthHandler(deps.Stores, deps.Renderer, AuthHandlerConfig{SettleTimeout: deps.SettleTimeout})
	dashboardHandler := NewDashboardHandler(deps.Stores, deps.Renderer, deps.SettleTimeout)
	sessionHandler := NewSessionHandler(deps.Stores, deps.SettleTimeout)

	// --- ブラウザセッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", staticHandler())

	// --- 画面とAPI ---
	// ミドルウェアスタック: BrowserSession → Logging → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBrowserSessionMiddleware(deps.BrowserSession))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		})

		// 認証画面（送信は認証試行のレート制限を追加）
		r.Route("/login", func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Get("/", authHandler.LoginPage)
			r.Post("/", authHandler.Login)
		})
		r.Route("/register", func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Get("/", authHandler.RegisterPage)
			r.Post("/", authHandler.Register)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/auth/callback", authHandler.Callback)

		// ログイン後の画面
		r.Get("/dashboard", dashboardHandler.Dashboard)
		r.Post("/settings/password", dashboardHandler.ChangePassword)

		// セッション参照API
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Get("/session", sessionHandler.Session)
			r.Get("/session/stream", sessionHandler.Stream)
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
			r.Options("/*", func(w http.ResponseWriter, r *http.Request) {})
		})
	})

	return r
}
