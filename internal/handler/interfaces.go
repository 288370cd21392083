// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
	"github.com/rovify/rovify/internal/session"
)

// SessionController はハンドラーが必要とする認証状態の操作インターフェース。
// session.Controllerの部分集合として定義する。
type SessionController interface {
	Snapshot() model.Session
	Await(ctx context.Context, predicate func(model.Session) bool) (model.Session, error)
	Login(ctx context.Context, email, password string) (*model.Identity, error)
	LoginWithOAuth(ctx context.Context, provider string) error
	Register(ctx context.Context, displayName, email, password string) (*session.RegistrationResult, error)
	LoginWithWallet(ctx context.Context, address, displayNameHint string) (*model.Identity, error)
	Logout(ctx context.Context)
	EnforceRouteGate(ctx context.Context, path string) route.Decision
	Rules() *route.Rules
}

// CodeExchanger はOAuthコールバックの認可コードをIdPセッションに交換する。
type CodeExchanger interface {
	ExchangeCodeForSession(ctx context.Context, code string) (*model.ProviderSession, error)
}

// HealthChecker はヘルスチェック対象の依存（DB等）。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

var _ SessionController = (*session.Controller)(nil)
