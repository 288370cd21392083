package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rovify/rovify/internal/model"
)

// defaultCallbackTimeout はコールバック後にControllerの確定を待つ時間のデフォルト値。
const defaultCallbackTimeout = 10 * time.Second

// CallbackHandler はOAuthコールバックを処理する。
type CallbackHandler struct {
	sessions  SessionController
	exchanger CodeExchanger
	timeout   time.Duration
	logger    *slog.Logger
}

// NewCallbackHandler はCallbackHandlerを生成する。timeoutが0以下の場合はデフォルト値を使う。
func NewCallbackHandler(sessions SessionController, exchanger CodeExchanger, timeout time.Duration, logger *slog.Logger) *CallbackHandler {
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	return &CallbackHandler{
		sessions:  sessions,
		exchanger: exchanger,
		timeout:   timeout,
		logger:    logger,
	}
}

// ServeHTTP は認可コードをセッションに交換し、Controllerがその主体でログイン済みになるのを待ってから
// ランディングページへリダイレクトする。失敗した場合はメッセージ付きでログイン画面へ戻す。
// GET /auth/callback?code=xxx
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rules := h.sessions.Rules()
	q := r.URL.Query()

	// IdPがエラーを返した場合（ユーザーが同意を拒否した等）
	if idpErr := q.Get("error"); idpErr != "" {
		h.logger.Info("oauth provider returned error",
			slog.String("error", idpErr),
			slog.String("description", q.Get("error_description")),
		)
		h.redirectToLogin(w, r, rules.LoginPath, "Sign-in was cancelled. Please try again.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectToLogin(w, r, rules.LoginPath, "Sign-in link is invalid. Please try again.")
		return
	}

	// 交換前から残っているエラーを今回の失敗と区別する
	priorErr := h.sessions.Snapshot().LastError

	ps, err := h.exchanger.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", slog.String("error", err.Error()))
		h.redirectToLogin(w, r, rules.LoginPath, model.UserMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principalID := ps.User.ID
	signedIn := func(s model.Session) bool {
		return s.Authenticated() && s.Identity.ID == principalID
	}
	failed := func(s model.Session) bool {
		return s.Status == model.StatusUnauthenticated && s.LastError != nil && s.LastError != priorErr
	}
	snap, err := h.sessions.Await(ctx, func(s model.Session) bool {
		return signedIn(s) || failed(s)
	})
	if err != nil || !signedIn(snap) {
		msg := "Sign-in is taking longer than expected. Please try again."
		if snap.LastError != nil {
			msg = model.UserMessage(snap.LastError)
		}
		h.logger.Warn("session did not settle after oauth callback",
			slog.String("principal_id", principalID),
			slog.String("status", string(snap.Status)),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		h.redirectToLogin(w, r, rules.LoginPath, msg)
		return
	}

	http.Redirect(w, r, rules.LandingPath, http.StatusSeeOther)
}

func (h *CallbackHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, loginPath, message string) {
	target := loginPath + "?" + url.Values{"message": {message}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}
