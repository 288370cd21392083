package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/rovify/rovify/internal/middleware"
	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
	"github.com/rovify/rovify/internal/session"
)

// --- モック定義 ---

type mockSessions struct {
	snapshotFn        func() model.Session
	awaitFn           func(ctx context.Context, predicate func(model.Session) bool) (model.Session, error)
	loginFn           func(ctx context.Context, email, password string) (*model.Identity, error)
	loginWithOAuthFn  func(ctx context.Context, provider string) error
	registerFn        func(ctx context.Context, displayName, email, password string) (*session.RegistrationResult, error)
	loginWithWalletFn func(ctx context.Context, address, hint string) (*model.Identity, error)
	logoutFn          func(ctx context.Context)
	enforceFn         func(ctx context.Context, path string) route.Decision
	rules             *route.Rules
}

var _ SessionController = (*mockSessions)(nil)

func (m *mockSessions) Snapshot() model.Session {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return model.Session{Status: model.StatusUnauthenticated}
}

func (m *mockSessions) Await(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
	if m.awaitFn != nil {
		return m.awaitFn(ctx, predicate)
	}
	return m.Snapshot(), nil
}

func (m *mockSessions) Login(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockSessions) LoginWithOAuth(ctx context.Context, provider string) error {
	if m.loginWithOAuthFn != nil {
		return m.loginWithOAuthFn(ctx, provider)
	}
	return nil
}

func (m *mockSessions) Register(ctx context.Context, displayName, email, password string) (*session.RegistrationResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, displayName, email, password)
	}
	return &session.RegistrationResult{}, nil
}

func (m *mockSessions) LoginWithWallet(ctx context.Context, address, hint string) (*model.Identity, error) {
	if m.loginWithWalletFn != nil {
		return m.loginWithWalletFn(ctx, address, hint)
	}
	return nil, nil
}

func (m *mockSessions) Logout(ctx context.Context) {
	if m.logoutFn != nil {
		m.logoutFn(ctx)
	}
}

func (m *mockSessions) EnforceRouteGate(ctx context.Context, path string) route.Decision {
	if m.enforceFn != nil {
		return m.enforceFn(ctx, path)
	}
	return route.Decision{Action: route.ActionAllow}
}

func (m *mockSessions) Rules() *route.Rules {
	if m.rules != nil {
		return m.rules
	}
	return route.DefaultRules()
}

type mockExchanger struct {
	exchangeFn func(ctx context.Context, code string) (*model.ProviderSession, error)
}

func (m *mockExchanger) ExchangeCodeForSession(ctx context.Context, code string) (*model.ProviderSession, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, nil
}

type mockHealth struct {
	err error
}

func (m *mockHealth) PingContext(context.Context) error { return m.err }

// --- ヘルパー ---

// navigate はControllerと同様にコンテキスト上のNavigatorへ遷移を要求する。
func navigate(ctx context.Context, target string) {
	if nav, ok := session.NavigatorFromContext(ctx); ok {
		nav.Navigate(target)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func passwordIdentity() *model.Identity {
	return &model.Identity{
		ID:          "user-1",
		Email:       "ada@example.com",
		DisplayName: "Ada",
		AuthMethod:  model.AuthMethodPassword,
		Role:        model.RoleAttendee,
	}
}

func decodeJSON[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return v
}

func decodeError(t *testing.T, body io.Reader) middleware.ErrorResponseBody {
	t.Helper()
	return decodeJSON[middleware.ErrorResponseBody](t, body)
}
