package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rovify/rovify/internal/middleware"
	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/wallet"
)

// maxRequestBodySize は認証APIのリクエストボディ上限。
const maxRequestBodySize = 1 << 16

// AuthHandler は認証APIのHTTPハンドラー。
// 状態の変更はすべてSessionControllerに委譲し、Controllerが要求した遷移先をレスポンスで返す。
type AuthHandler struct {
	sessions SessionController
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionController, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type walletRequest struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
	ident, err := h.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authResponse{
		Identity: newIdentityResponse(ident),
		Redirect: nav.target,
	})
}

// OAuth はOAuthフローを開始し、認可URLを返す。
// POST /api/auth/oauth/{provider}
func (h *AuthHandler) OAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
	if err := h.sessions.LoginWithOAuth(ctx, provider); err != nil {
		middleware.WriteAuthError(w, err)
		return
	}
	if nav.target == "" {
		h.logger.Error("oauth sign-in started without authorize url", slog.String("provider", provider))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authResponse{Redirect: nav.target})
}

// Register はユーザーを登録する。
// セッションが確立した場合は201、メール確認待ちの場合は202を返す。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("email and password are required"))
		return
	}

	ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
	res, err := h.sessions.Register(ctx, req.DisplayName, req.Email, req.Password)
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	if res.PendingConfirmation {
		middleware.WriteJSON(w, http.StatusAccepted, authResponse{
			Redirect: nav.target,
			Message:  res.Message,
		})
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, authResponse{
		Identity: newIdentityResponse(res.Identity),
		Redirect: nav.target,
	})
}

// Wallet はウォレットアドレスでログインする。
// POST /api/auth/wallet
func (h *AuthHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := wallet.NormalizeAddress(req.Address); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
	ident, err := h.sessions.LoginWithWallet(ctx, req.Address, req.DisplayName)
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authResponse{
		Identity: newIdentityResponse(ident),
		Redirect: nav.target,
	})
}

// Logout はログアウトする。IdP側の失敗に関わらず常に成功を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, nav := withRequestNavigator(r.Context(), r.URL.Path)
	h.sessions.Logout(ctx)

	middleware.WriteJSON(w, http.StatusOK, authResponse{Redirect: nav.target})
}

// Session は現在の認証状態を返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, newSessionResponse(h.sessions.Snapshot()))
}

// decodeBody はJSONボディをdstにデコードする。失敗した場合は400を書き込んでfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return false
	}
	return true
}
