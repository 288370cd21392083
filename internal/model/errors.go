package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 認証エラーの種類。errors.Isで判定する。
var (
	// ErrAuthProvider はIdPとの通信失敗やIdP側の汎用エラー。
	ErrAuthProvider = errors.New("auth provider error")
	// ErrInvalidCredentials はパスワードグラントが拒否された。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProviderNotEnabled は要求されたOAuthプロバイダーがIdP側で有効になっていない。
	ErrProviderNotEnabled = errors.New("oauth provider not enabled")
	// ErrProfileResolution はIdPセッションは有効だがプロフィールの取得・作成に失敗した。
	ErrProfileResolution = errors.New("profile resolution failed")
	// ErrWalletLink はウォレットによるプロフィールの検索・作成に失敗した。
	ErrWalletLink = errors.New("wallet link failed")
	// ErrRegistration はサインアップが拒否または失敗した。
	ErrRegistration = errors.New("registration failed")

	// ErrProfileConflict はプロフィール作成時に一意制約違反が発生した。
	// 呼び出し側は再取得で解決する。
	ErrProfileConflict = errors.New("profile already exists")
)

// AuthError は認証操作の失敗を表す。
// Kindは上記のエラー種別、MessageはUIにそのまま表示できる文言、
// Errは開発者向けの原因（ログにのみ出す）。
type AuthError struct {
	Kind    error
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap はKindと原因の両方をerrors.Is/Asの探索対象にする。
func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewInvalidCredentialsError は認証情報不正エラーを生成する。
func NewInvalidCredentialsError(err error) *AuthError {
	return &AuthError{
		Kind:    ErrInvalidCredentials,
		Message: "Incorrect email or password.",
		Err:     err,
	}
}

// NewAuthProviderError はIdP通信エラーを生成する。
func NewAuthProviderError(err error) *AuthError {
	return &AuthError{
		Kind:    ErrAuthProvider,
		Message: "The sign-in service is unavailable right now. Please try again.",
		Err:     err,
	}
}

// NewProviderNotEnabledError はOAuthプロバイダー未設定エラーを生成する。
func NewProviderNotEnabledError(provider string, err error) *AuthError {
	return &AuthError{
		Kind:    ErrProviderNotEnabled,
		Message: fmt.Sprintf("Sign-in with %s is not enabled. Enable the %s provider in the authentication settings, or use another sign-in method.", provider, provider),
		Err:     err,
	}
}

// NewProfileResolutionError はプロフィール解決エラーを生成する。
// 内部の詳細はMessageに含めない。
func NewProfileResolutionError(err error) *AuthError {
	return &AuthError{
		Kind:    ErrProfileResolution,
		Message: "We couldn't complete sign-in. Please try again.",
		Err:     err,
	}
}

// NewWalletLinkError はウォレット連携エラーを生成する。
func NewWalletLinkError(err error) *AuthError {
	return &AuthError{
		Kind:    ErrWalletLink,
		Message: "We couldn't complete sign-in. Please try again.",
		Err:     err,
	}
}

// NewRegistrationError はサインアップエラーを生成する。
// providerMessageはIdPが返したメッセージで、そのまま表示してよい。
func NewRegistrationError(providerMessage string, err error) *AuthError {
	if providerMessage == "" {
		providerMessage = "Registration failed. Please try again."
	}
	return &AuthError{
		Kind:    ErrRegistration,
		Message: providerMessage,
		Err:     err,
	}
}

// UserMessage はエラーからUI表示用の文言を取り出す。
// AuthErrorでない場合は汎用文言を返す。
func UserMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return "Something went wrong. Please try again."
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeProviderNotEnabled = "PROVIDER_NOT_ENABLED"
	ErrCodeSignInIncomplete   = "SIGN_IN_INCOMPLETE"
	ErrCodeRegistrationFailed = "REGISTRATION_FAILED"
	ErrCodeAuthUnavailable    = "AUTH_UNAVAILABLE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
)

// NewAPIErrorFromAuth は認証エラーを統一エラーフォーマットに変換する。
func NewAPIErrorFromAuth(err error) *APIError {
	msg := UserMessage(err)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  msg,
			Category: "auth",
			Action:   "Check your email and password and try again.",
		}
	case errors.Is(err, ErrProviderNotEnabled):
		return &APIError{
			Code:     ErrCodeProviderNotEnabled,
			Message:  msg,
			Category: "auth",
			Action:   "Ask an administrator to enable this provider, or sign in with email.",
		}
	case errors.Is(err, ErrRegistration):
		return &APIError{
			Code:     ErrCodeRegistrationFailed,
			Message:  msg,
			Category: "validation",
			Action:   "Check the details you entered and try again.",
		}
	case errors.Is(err, ErrProfileResolution), errors.Is(err, ErrWalletLink):
		return &APIError{
			Code:     ErrCodeSignInIncomplete,
			Message:  msg,
			Category: "auth",
			Action:   "Please try signing in again.",
		}
	default:
		return &APIError{
			Code:     ErrCodeAuthUnavailable,
			Message:  msg,
			Category: "system",
			Action:   "Please wait a moment and try again.",
		}
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "You are not signed in.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}
