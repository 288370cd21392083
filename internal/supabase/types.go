package supabase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rovify/rovify/internal/model"
)

// APIError はAuth APIのエラーレスポンス。
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase auth: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase auth: %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// errorResponse はGoTrueのエラーボディ。
// OAuth形式（error/error_description）と新形式（error_code/msg）の両方がある。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		apiErr.Code = firstNonEmpty(resp.ErrorCode, resp.Error)
		apiErr.Message = firstNonEmpty(resp.ErrorDescription, resp.Msg, resp.Message)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	AppMetadata      appMetadata    `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type appMetadata struct {
	Provider string `json:"provider"`
}

func (u *userResponse) principal() model.Principal {
	return model.Principal{
		ID:             u.ID,
		Email:          u.Email,
		DisplayName:    metadataString(u.UserMetadata, "display_name", "full_name", "name"),
		AvatarURL:      metadataString(u.UserMetadata, "avatar_url", "picture"),
		Provider:       firstNonEmpty(u.AppMetadata.Provider, "email"),
		EmailConfirmed: u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero(),
	}
}

// tokenResponse は/tokenおよびセッション付き/signupのレスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// session はトークンレスポンスをProviderSessionに変換する。
// expires_atがない場合はexpires_in、それもなければトークンのexpから求める。
func (t *tokenResponse) session(now time.Time) (*model.ProviderSession, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}
	if t.User == nil || t.User.ID == "" {
		return nil, fmt.Errorf("token response has no user")
	}

	var expiresAt time.Time
	switch {
	case t.ExpiresAt > 0:
		expiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		if claims, err := ParseAccessToken(t.AccessToken, nil); err == nil && claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
	}

	return &model.ProviderSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    firstNonEmpty(t.TokenType, "bearer"),
		ExpiresAt:    expiresAt,
		User:         t.User.principal(),
	}, nil
}

// settingsResponse は/settingsのレスポンス。externalに有効なプロバイダーが並ぶ。
type settingsResponse struct {
	External      map[string]bool `json:"external"`
	DisableSignup bool            `json:"disable_signup"`
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type pkceGrantRequest struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

func metadataString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
