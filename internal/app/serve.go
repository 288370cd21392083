package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rovify/rovify/internal/config"
	"github.com/rovify/rovify/internal/database"
	"github.com/rovify/rovify/internal/handler"
	"github.com/rovify/rovify/internal/metrics"
	"github.com/rovify/rovify/internal/middleware"
	"github.com/rovify/rovify/internal/repository"
	"github.com/rovify/rovify/internal/route"
	"github.com/rovify/rovify/internal/security"
	"github.com/rovify/rovify/internal/session"
	"github.com/rovify/rovify/internal/supabase"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// runServe はHTTPシェルを起動する。
// DB接続を開き、全依存関係をワイヤリングし、SessionControllerを開始してからHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. プロフィールDB
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established",
		slog.String("database_url", config.MaskDatabaseURL(cfg.DatabaseURL)),
	)

	// 2. IdPセッションのローカル保存先
	local, err := database.OpenLocal(cfg.LocalStatePath)
	if err != nil {
		return fmt.Errorf("failed to open local state: %w", err)
	}
	defer local.Close()

	if err := database.MigrateLocal(local); err != nil {
		return fmt.Errorf("failed to migrate local state: %w", err)
	}

	// 3. リポジトリ・IdPクライアントの初期化
	profiles := repository.NewPostgresProfileRepo(db)
	store := repository.NewSQLiteSessionRepo(local)

	provider, err := supabase.NewClient(supabase.Config{
		URL:         cfg.SupabaseURL,
		AnonKey:     cfg.SupabaseAnonKey,
		JWTSecret:   cfg.SupabaseJWTSecret,
		RedirectURL: cfg.OAuthRedirectURL,
		Timeout:     cfg.ProviderTimeout,
		MaxRetries:  cfg.ProviderMaxRetries,
	}, store, log)
	if err != nil {
		return fmt.Errorf("failed to create identity provider client: %w", err)
	}

	// 4. セキュリティ・メトリクス
	sanitizer := security.NewProfileSanitizer(security.NewURLGuard(cfg.ProviderTimeout), cfg.AvatarProbe, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. SessionController
	rules, err := loadRules(cfg.RoutesFile)
	if err != nil {
		return err
	}
	controller := session.NewController(session.Deps{
		Provider:  provider,
		Profiles:  profiles,
		Metrics:   collector,
		Sanitizer: sanitizer,
		Logger:    log,
	}, session.Config{
		Rules:          rules,
		DebounceWindow: cfg.EventDebounce,
	})
	controller.Start(ctx)
	defer controller.Stop()

	// 6. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.AuthRateLimiterConfig(cfg.RateLimitAuth), log)
	defer limiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:          controller,
		Exchanger:         provider,
		Health:            db,
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		AuthRateLimiter:   limiter,
		RequestObserver:   collector,
		StaticDir:         cfg.StaticDir,
		CallbackTimeout:   cfg.ProviderTimeout,
		Metrics:           metrics.Handler(reg),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// プロフィールDBとローカル状態DBの未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", config.MaskDatabaseURL(cfg.DatabaseURL)),
	)
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	local, err := database.OpenLocal(cfg.LocalStatePath)
	if err != nil {
		return fmt.Errorf("failed to open local state: %w", err)
	}
	defer local.Close()

	if err := database.MigrateLocal(local); err != nil {
		return fmt.Errorf("local state migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("invalid health check url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// loadRules はルート分類ルールを読み込む。pathが空の場合は埋め込みのデフォルトを使う。
func loadRules(path string) (*route.Rules, error) {
	if path == "" {
		return route.DefaultRules(), nil
	}
	rules, err := route.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load route rules: %w", err)
	}
	return rules, nil
}
