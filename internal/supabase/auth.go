package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/rovify/rovify/internal/model"
)

// GetSession は保存済みのセッションを返す。
// 期限切れ間近ならリフレッシュする。リフレッシュトークンが拒否された場合や
// トークンの署名が不正な場合はローカルのセッションを破棄してnilを返す。
func (c *Client) GetSession(ctx context.Context) (*model.ProviderSession, error) {
	session, err := c.store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if c.cfg.JWTSecret != "" {
		claims, err := ParseAccessToken(session.AccessToken, []byte(c.cfg.JWTSecret))
		if err != nil || claims.Subject != session.User.ID {
			c.logger.Warn("discarding stored session with invalid access token",
				slog.String("user_id", session.User.ID),
			)
			return nil, c.discardSession(ctx)
		}
	}

	if !session.Expired(c.now(), c.cfg.RefreshLeeway) {
		return session, nil
	}
	if session.RefreshToken == "" {
		return nil, c.discardSession(ctx)
	}

	v, err, _ := c.refreshGroup.Do(session.RefreshToken, func() (any, error) {
		return c.refresh(ctx, session.RefreshToken)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			c.logger.Info("refresh token rejected, session discarded",
				slog.String("user_id", session.User.ID),
				slog.String("code", apiErr.Code),
			)
			return nil, c.discardSession(ctx)
		}
		return nil, model.NewAuthProviderError(err)
	}
	return v.(*model.ProviderSession), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.ProviderSession, error) {
	data, err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}},
		refreshGrantRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return nil, err
	}
	session, err := c.decodeSession(data)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save refreshed session: %w", err)
	}
	c.logger.Debug("session refreshed", slog.String("user_id", session.User.ID))
	return session, nil
}

func (c *Client) discardSession(ctx context.Context) error {
	if err := c.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// SignInWithPassword はパスワードグラントでサインインし、SignedInを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.ProviderSession, error) {
	data, err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}},
		passwordGrantRequest{Email: strings.TrimSpace(email), Password: password}, "")
	if err != nil {
		return nil, signInError(err)
	}
	return c.establish(ctx, data)
}

// signInError はサインインの失敗を認証エラーに変換する。
func signInError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.retryable() {
		return model.NewAuthProviderError(err)
	}
	if apiErr.Code == "email_not_confirmed" {
		return &model.AuthError{
			Kind:    model.ErrInvalidCredentials,
			Message: "Please confirm your email address before signing in.",
			Err:     err,
		}
	}
	return model.NewInvalidCredentialsError(err)
}

// SignInWithOAuth はPKCEでOAuthフローを開始し、認可URLを返す。
// プロバイダーが有効でない場合はmodel.ErrProviderNotEnabledを返す。
func (c *Client) SignInWithOAuth(ctx context.Context, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", model.NewProviderNotEnabledError("this provider", fmt.Errorf("empty provider name"))
	}

	settings, err := c.settings(ctx)
	if err != nil {
		return "", model.NewAuthProviderError(err)
	}
	if !settings.External[provider] {
		return "", model.NewProviderNotEnabledError(provider, fmt.Errorf("provider %q is disabled in auth settings", provider))
	}

	verifier := oauth2.GenerateVerifier()
	if err := c.store.SaveCodeVerifier(ctx, verifier); err != nil {
		return "", model.NewAuthProviderError(fmt.Errorf("failed to save code verifier: %w", err))
	}

	query := url.Values{
		"provider":              {provider},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"s256"},
	}
	if c.cfg.RedirectURL != "" {
		query.Set("redirect_to", c.cfg.RedirectURL)
	}
	return c.endpoint("/authorize", query), nil
}

func (c *Client) settings(ctx context.Context) (*settingsResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/settings", nil, nil, "")
	if err != nil {
		return nil, err
	}
	var settings settingsResponse
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse auth settings: %w", err)
	}
	return &settings, nil
}

// ExchangeCodeForSession はOAuthコールバックの認可コードをセッションに交換し、SignedInを通知する。
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*model.ProviderSession, error) {
	if code == "" {
		return nil, model.NewAuthProviderError(fmt.Errorf("authorization code is empty"))
	}
	verifier, err := c.store.TakeCodeVerifier(ctx)
	if err != nil {
		return nil, model.NewAuthProviderError(fmt.Errorf("failed to load code verifier: %w", err))
	}
	if verifier == "" {
		return nil, model.NewAuthProviderError(fmt.Errorf("no pending oauth flow"))
	}

	data, err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}},
		pkceGrantRequest{AuthCode: code, CodeVerifier: verifier}, "")
	if err != nil {
		return nil, model.NewAuthProviderError(err)
	}
	return c.establish(ctx, data)
}

// SignUp はユーザーを登録する。メール確認が必要な場合はSessionがnilの結果を返す。
func (c *Client) SignUp(ctx context.Context, email, password string, hints model.ProfileHints) (*model.SignUpResult, error) {
	req := signUpRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if hints.DisplayName != "" {
		req.Data = map[string]any{
			"display_name": hints.DisplayName,
			"full_name":    hints.DisplayName,
		}
	}
	var query url.Values
	if c.cfg.RedirectURL != "" {
		query = url.Values{"redirect_to": {c.cfg.RedirectURL}}
	}

	data, err := c.do(ctx, http.MethodPost, "/signup", query, req, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return nil, model.NewRegistrationError(apiErr.Message, err)
		}
		return nil, model.NewAuthProviderError(err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, model.NewAuthProviderError(fmt.Errorf("failed to parse sign-up response: %w", err))
	}
	if tok.AccessToken != "" {
		session, err := c.establish(ctx, data)
		if err != nil {
			return nil, err
		}
		return &model.SignUpResult{User: session.User, Session: session}, nil
	}

	// メール確認待ちの場合はユーザーオブジェクトのみ返る
	var user userResponse
	if err := json.Unmarshal(data, &user); err != nil || user.ID == "" {
		return nil, model.NewAuthProviderError(fmt.Errorf("sign-up response has neither session nor user"))
	}
	return &model.SignUpResult{User: user.principal()}, nil
}

// SignOut はローカルのセッションを破棄してSignedOutを通知し、IdP側のセッションを失効させる。
// IdP側の失効に失敗してもローカルのセッションは破棄済み。
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.store.LoadSession(ctx)
	if err != nil {
		c.logger.Warn("failed to load session before sign-out", slog.String("error", err.Error()))
	}
	if err := c.discardSession(ctx); err != nil {
		return err
	}
	c.emit(model.AuthEvent{Kind: model.AuthEventSignedOut})

	if session == nil || session.AccessToken == "" {
		return nil
	}
	if _, err := c.do(ctx, http.MethodPost, "/logout", nil, nil, session.AccessToken); err != nil {
		var apiErr *APIError
		// 既に失効しているトークンは成功とみなす
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound) {
			return nil
		}
		return model.NewAuthProviderError(err)
	}
	return nil
}

// establish はトークンレスポンスを保存してSignedInを通知する。
func (c *Client) establish(ctx context.Context, data []byte) (*model.ProviderSession, error) {
	session, err := c.decodeSession(data)
	if err != nil {
		return nil, model.NewAuthProviderError(err)
	}
	if err := c.store.SaveSession(ctx, session); err != nil {
		return nil, model.NewAuthProviderError(fmt.Errorf("failed to save session: %w", err))
	}
	c.emit(model.AuthEvent{Kind: model.AuthEventSignedIn, Session: session})
	return session, nil
}

func (c *Client) decodeSession(data []byte) (*model.ProviderSession, error) {
	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return tok.session(c.now())
}
