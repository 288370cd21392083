package handler

import (
	"log/slog"
	"net/http"

	"github.com/rovify/rovify/internal/middleware"
	"github.com/rovify/rovify/internal/route"
)

// loadingRetryAfter は初期化中に返すRetry-Afterの秒数。
const loadingRetryAfter = "1"

// NewRouteGateMiddleware はページ表示前にルートゲートを適用するミドルウェアを返す。
//   - 初期化中: 503 + Retry-After（ローディング表示）
//   - リダイレクト: 303で遷移先へ
//   - 許可: 次のハンドラーへ
func NewRouteGateMiddleware(sessions SessionController, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
			d := sessions.EnforceRouteGate(ctx, r.URL.Path)

			switch d.Action {
			case route.ActionWait:
				w.Header().Set("Retry-After", loadingRetryAfter)
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "loading",
				})
				return
			case route.ActionRedirect:
				// 遷移先が現在のパスと同じ場合はControllerが遷移を要求しない
				if nav.target != "" {
					logger.Debug("route gate redirect",
						slog.String("path", r.URL.Path),
						slog.String("target", nav.target),
						slog.String("class", string(d.Class)),
					)
					http.Redirect(w, r, nav.target, http.StatusSeeOther)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pageResponse は静的ディレクトリ未設定時に返すページのJSON表現。
type pageResponse struct {
	Path     string            `json:"path"`
	Class    string            `json:"class"`
	Identity *identityResponse `json:"identity"`
}

// NewPageHandler はゲートを通過したページを配信するハンドラーを返す。
// staticDirが空の場合はページの分類と現在のIdentityをJSONで返す。
func NewPageHandler(sessions SessionController, staticDir string) http.Handler {
	if staticDir != "" {
		return http.FileServer(http.Dir(staticDir))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, pageResponse{
			Path:     r.URL.Path,
			Class:    string(sessions.Rules().Classify(r.URL.Path)),
			Identity: newIdentityResponse(middleware.IdentityFromContext(r.Context())),
		})
	})
}
