package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rovify/rovify/internal/middleware"
	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
	"github.com/rovify/rovify/internal/session"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRouteGateMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		decision     route.Decision
		navigateTo   string
		wantStatus   int
		wantLocation string
	}{
		{
			name:       "許可",
			decision:   route.Decision{Action: route.ActionAllow, Class: route.Public},
			wantStatus: http.StatusOK,
		},
		{
			name:       "初期化中",
			decision:   route.Decision{Action: route.ActionWait, Class: route.Protected},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:         "ログイン画面へ",
			decision:     route.Decision{Action: route.ActionRedirect, Target: "/auth/login", Class: route.Protected},
			navigateTo:   "/auth/login",
			wantStatus:   http.StatusSeeOther,
			wantLocation: "/auth/login",
		},
		{
			name:       "遷移が抑止された場合は通す",
			decision:   route.Decision{Action: route.ActionRedirect, Target: "/home", Class: route.AuthEntry},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			sessions := &mockSessions{
				enforceFn: func(ctx context.Context, path string) route.Decision {
					gotPath = path
					if tt.navigateTo != "" {
						navigate(ctx, tt.navigateTo)
					}
					return tt.decision
				},
			}
			handler := NewRouteGateMiddleware(sessions, discardLogger())(okHandler)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/42", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotPath != "/events/42" {
				t.Errorf("path = %q, want /events/42", gotPath)
			}
			if loc := w.Header().Get("Location"); loc != tt.wantLocation {
				t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
			}
			if tt.decision.Action == route.ActionWait && w.Header().Get("Retry-After") == "" {
				t.Error("Retry-After should be set while initializing")
			}
		})
	}
}

func TestRouteGateMiddleware_CurrentPathIsRequestPath(t *testing.T) {
	var current string
	sessions := &mockSessions{
		enforceFn: func(ctx context.Context, path string) route.Decision {
			if nav, ok := session.NavigatorFromContext(ctx); ok {
				current = nav.CurrentPath()
			}
			return route.Decision{Action: route.ActionAllow}
		},
	}
	handler := NewRouteGateMiddleware(sessions, discardLogger())(okHandler)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/login?next=x", nil))

	if current != "/auth/login" {
		t.Errorf("CurrentPath() = %q, want /auth/login", current)
	}
}

func TestPageHandler_JSONStub(t *testing.T) {
	h := NewPageHandler(&mockSessions{}, "")

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req = req.WithContext(middleware.ContextWithIdentity(req.Context(), passwordIdentity()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := decodeJSON[pageResponse](t, w.Body)
	if got.Path != "/home" || got.Class != string(route.Protected) {
		t.Errorf("page = %+v", got)
	}
	if got.Identity == nil || got.Identity.ID != "user-1" {
		t.Errorf("identity = %+v", got.Identity)
	}
}

func TestPageHandler_StaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "terms"), []byte("terms of service"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewPageHandler(&mockSessions{}, dir)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/terms", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "terms of service" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	sessions := &mockSessions{
		snapshotFn: func() model.Session { return model.Session{Status: model.StatusAuthenticated, Identity: passwordIdentity()} },
	}

	t.Run("正常", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(sessions, &mockHealth{}, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		got := decodeJSON[healthResponse](t, w.Body)
		if got.Status != "ok" || got.Session != "authenticated" {
			t.Errorf("health = %+v", got)
		}
	})

	t.Run("DB到達不可", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(sessions, &mockHealth{err: context.DeadlineExceeded}, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("チェック対象なし", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewHealthHandler(sessions, nil, discardLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}
