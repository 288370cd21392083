package model

import "time"

// Status は認証セッションの状態を表す。
type Status string

const (
	// StatusInitializing は起動直後、IdPへの問い合わせが完了していない状態。
	StatusInitializing Status = "initializing"
	// StatusUnauthenticated は未ログイン状態。
	StatusUnauthenticated Status = "unauthenticated"
	// StatusAuthenticated はログイン済みでIdentityが確定している状態。
	StatusAuthenticated Status = "authenticated"
)

// Session はプロセス全体の認証状態のスナップショット。
// SessionControllerだけが更新し、それ以外は読み取り専用で扱う。
type Session struct {
	Status    Status
	Identity  *Identity
	LastError error
}

// Authenticated はログイン済みかどうかを返す。
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// ProviderSession はIdPが発行したセッション（トークン一式）を表す。
type ProviderSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         Principal
}

// Expired はアクセストークンが期限切れ（または期限切れ間近）かどうかを返す。
// leewayだけ早めに期限切れとみなす。
func (s *ProviderSession) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// SignUpResult はサインアップ結果。
// メール確認が必要な場合はSessionがnilになる。
type SignUpResult struct {
	User    Principal
	Session *ProviderSession
}

// AuthEventKind はIdPからプッシュされるイベントの種類。
type AuthEventKind string

const (
	AuthEventSignedIn  AuthEventKind = "signed_in"
	AuthEventSignedOut AuthEventKind = "signed_out"
)

// AuthEvent はIdPからプッシュされる認証状態の変化。
// SignedInの場合のみSessionが設定される。
type AuthEvent struct {
	Kind    AuthEventKind
	Session *ProviderSession
}
