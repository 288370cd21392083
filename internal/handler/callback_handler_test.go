package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rovify/rovify/internal/model"
)

func providerSession(userID string) *model.ProviderSession {
	return &model.ProviderSession{
		AccessToken: "access",
		User:        model.Principal{ID: userID, Email: "ada@example.com", Provider: "google"},
	}
}

func loginMessage(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("invalid location %q: %v", location, err)
	}
	if u.Path != "/auth/login" {
		t.Fatalf("location path = %q, want /auth/login", u.Path)
	}
	return u.Query().Get("message")
}

func TestCallbackHandler_Success(t *testing.T) {
	var gotCode string
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, code string) (*model.ProviderSession, error) {
			gotCode = code
			return providerSession("user-1"), nil
		},
	}
	sessions := &mockSessions{
		awaitFn: func(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
			// 別の主体でログイン済みの状態では待ち続ける
			other := model.Session{Status: model.StatusAuthenticated, Identity: &model.Identity{ID: "user-2"}}
			if predicate(other) {
				t.Error("predicate should not accept a different principal")
			}
			settled := model.Session{Status: model.StatusAuthenticated, Identity: passwordIdentity()}
			if !predicate(settled) {
				t.Error("predicate should accept the exchanged principal")
			}
			return settled, nil
		},
	}
	h := NewCallbackHandler(sessions, exchanger, time.Second, discardLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/home" {
		t.Errorf("Location = %q, want /home", loc)
	}
	if gotCode != "abc" {
		t.Errorf("code = %q, want abc", gotCode)
	}
}

func TestCallbackHandler_Failures(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		exchangeErr error
		awaitErr    error
		awaitSnap   model.Session
		wantMessage string
	}{
		{
			name:        "IdPエラー",
			query:       "error=access_denied&error_description=denied",
			wantMessage: "Sign-in was cancelled. Please try again.",
		},
		{
			name:        "コードなし",
			query:       "",
			wantMessage: "Sign-in link is invalid. Please try again.",
		},
		{
			name:        "交換失敗",
			query:       "code=abc",
			exchangeErr: model.NewAuthProviderError(errors.New("no pending oauth flow")),
			wantMessage: "The sign-in service is unavailable right now. Please try again.",
		},
		{
			name:        "確定待ちタイムアウト",
			query:       "code=abc",
			awaitErr:    context.DeadlineExceeded,
			awaitSnap:   model.Session{Status: model.StatusUnauthenticated},
			wantMessage: "Sign-in is taking longer than expected. Please try again.",
		},
		{
			name:     "プロフィール解決失敗",
			query:    "code=abc",
			awaitErr: context.DeadlineExceeded,
			awaitSnap: model.Session{
				Status:    model.StatusUnauthenticated,
				LastError: model.NewProfileResolutionError(errors.New("db down")),
			},
			wantMessage: "We couldn't complete sign-in. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchanger := &mockExchanger{
				exchangeFn: func(ctx context.Context, code string) (*model.ProviderSession, error) {
					if tt.exchangeErr != nil {
						return nil, tt.exchangeErr
					}
					return providerSession("user-1"), nil
				},
			}
			sessions := &mockSessions{
				awaitFn: func(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
					return tt.awaitSnap, tt.awaitErr
				},
			}
			h := NewCallbackHandler(sessions, exchanger, time.Second, discardLogger())

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query, nil))

			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", w.Code)
			}
			if got := loginMessage(t, w.Header().Get("Location")); got != tt.wantMessage {
				t.Errorf("message = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestCallbackHandler_ResolutionFailureFailsFast(t *testing.T) {
	stale := model.Session{
		Status:    model.StatusUnauthenticated,
		LastError: model.NewAuthProviderError(errors.New("earlier attempt")),
	}
	failed := model.Session{
		Status:    model.StatusUnauthenticated,
		LastError: model.NewProfileResolutionError(errors.New("db down")),
	}
	sessions := &mockSessions{
		snapshotFn: func() model.Session { return stale },
		awaitFn: func(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
			// 交換前から残っているエラーでは待ちを終えない
			if predicate(stale) {
				t.Error("predicate should ignore an error left from before the exchange")
			}
			if !predicate(failed) {
				t.Fatal("predicate should stop waiting on a new resolution failure")
			}
			return failed, nil
		},
	}
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, code string) (*model.ProviderSession, error) {
			return providerSession("user-1"), nil
		},
	}
	h := NewCallbackHandler(sessions, exchanger, time.Hour, discardLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if got := loginMessage(t, w.Header().Get("Location")); got != "We couldn't complete sign-in. Please try again." {
		t.Errorf("message = %q", got)
	}
}

func TestCallbackHandler_AwaitUsesTimeout(t *testing.T) {
	sessions := &mockSessions{
		awaitFn: func(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("await context should carry a deadline")
			}
			<-ctx.Done()
			return model.Session{Status: model.StatusInitializing}, ctx.Err()
		},
	}
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, code string) (*model.ProviderSession, error) {
			return providerSession("user-1"), nil
		},
	}
	h := NewCallbackHandler(sessions, exchanger, 20*time.Millisecond, discardLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/auth/login?") {
		t.Errorf("Location = %q, want login redirect", loc)
	}
}

func TestNewCallbackHandler_DefaultTimeout(t *testing.T) {
	h := NewCallbackHandler(&mockSessions{}, &mockExchanger{}, 0, discardLogger())
	if h.timeout != defaultCallbackTimeout {
		t.Errorf("timeout = %v, want %v", h.timeout, defaultCallbackTimeout)
	}
}
