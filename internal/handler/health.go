package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rovify/rovify/internal/middleware"
)

// healthCheckTimeout はヘルスチェックの依存確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// checkerがnilの場合は依存の確認を省略する。
// GET /health
func NewHealthHandler(sessions SessionController, checker HealthChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := string(sessions.Snapshot().Status)

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				logger.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
					Status:  "unavailable",
					Session: status,
				})
				return
			}
		}

		middleware.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Session: status,
		})
	})
}
