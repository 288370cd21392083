// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/rovify/rovify/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var identityContextKey = contextKey("identity")

// SessionReader は現在の認証状態を読み取るインターフェース。
// session.Controllerの部分集合として定義する。
type SessionReader interface {
	Snapshot() model.Session
}

// NewIdentityMiddleware はリクエスト受付時点のIdentityをコンテキストに注入する。
// 未ログインの場合は何も注入せずに通す。
func NewIdentityMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := sessions.Snapshot()
			if snap.Authenticated() {
				r = r.WithContext(ContextWithIdentity(r.Context(), snap.Identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireAuthenticatedMiddleware は未ログインのリクエストに401を返すミドルウェアを返す。
// NewIdentityMiddlewareの後に配置する。
func NewRequireAuthenticatedMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IdentityFromContext(r.Context()) == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext はコンテキストからIdentityを取得する。未ログインの場合はnilを返す。
func IdentityFromContext(ctx context.Context) *model.Identity {
	ident, _ := ctx.Value(identityContextKey).(*model.Identity)
	return ident
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
func ContextWithIdentity(ctx context.Context, ident *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, ident)
}
