package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rovify/rovify/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Sessions  SessionController
	Exchanger CodeExchanger
	Health    HealthChecker
	Logger    *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CookieSecure      bool
	CookieDomain      string
	AuthRateLimiter   *middleware.RateLimiter
	RequestObserver   middleware.RequestObserver

	// ページ配信
	StaticDir       string
	CallbackTimeout time.Duration
	Metrics         http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Identity → Logging → SecurityHeaders → CORS
//
// /api/* にはさらにCSRFを、認証操作のPOSTにはレート制限を適用する。
// それ以外のGETページはルートゲートを通してから配信する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewIdentityMiddleware(deps.Sessions))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.RequestObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Logger)
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.Sessions, deps.Health, deps.Logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 認証API ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig, deps.Logger))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/session", authHandler.Session)

			r.Group(func(r chi.Router) {
				if deps.AuthRateLimiter != nil {
					r.Use(deps.AuthRateLimiter.Middleware())
				}
				r.Post("/login", authHandler.Login)
				r.Post("/register", authHandler.Register)
				r.Post("/oauth/{provider}", authHandler.OAuth)
				r.Post("/wallet", authHandler.Wallet)
			})

			r.Post("/logout", authHandler.Logout)
		})
	})

	// --- OAuthコールバック（ルートゲートの対象外） ---
	r.Method(http.MethodGet, "/auth/callback",
		NewCallbackHandler(deps.Sessions, deps.Exchanger, deps.CallbackTimeout, deps.Logger))

	// --- ページ ---
	// 上記以外のGETはルートゲートを通してから配信する
	pages := NewRouteGateMiddleware(deps.Sessions, deps.Logger)(NewPageHandler(deps.Sessions, deps.StaticDir))
	r.Method(http.MethodGet, "/*", pages)
	r.Method(http.MethodHead, "/*", pages)

	return r
}
