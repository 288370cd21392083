package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/rovify/rovify/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookie。フロントエンドから読めるようHttpOnlyにしない。
	csrfCookieName = "rovify_csrf"
	csrfHeaderName = "X-CSRF-Token"
	csrfCookieAge  = 24 * 60 * 60
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF対策ミドルウェアを返す。
// GET・HEAD・OPTIONSはトークンCookieを発行して通す。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を要求する。
func NewCSRFMiddleware(config CSRFConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if _, err := issueCSRFCookie(w, config); err != nil {
						logger.Error("failed to generate CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			reason := ""
			cookie, err := r.Cookie(csrfCookieName)
			header := r.Header.Get(csrfHeaderName)
			switch {
			case err != nil || cookie.Value == "":
				reason = "missing cookie token"
			case header == "":
				reason = "missing header token"
			case subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1:
				reason = "token mismatch"
			}
			if reason != "" {
				logger.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "CSRF_TOKEN_INVALID",
					Message:  "Your session form has expired. Please reload the page.",
					Category: "validation",
					Action:   "Reload the page and try again.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はCSRFトークンを返すハンドラー。
// 既存のCookieがあればその値を、なければ新規発行した値を返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
			WriteJSON(w, http.StatusOK, map[string]string{"token": cookie.Value})
			return
		}
		token, err := issueCSRFCookie(w, config)
		if err != nil {
			WriteInternalServerError(w)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

func issueCSRFCookie(w http.ResponseWriter, config CSRFConfig) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieAge,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
