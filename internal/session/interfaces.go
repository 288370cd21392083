// Package session は認証セッションのライフサイクルを管理する。
//
// Controllerはプロセス全体で1つの認証状態（Session/Identity）を所有し、
// IdPからのイベント・明示的なログイン/ログアウトによってのみ状態を更新する。
// 他のコンポーネントはSnapshotとSubscribeで読み取るだけで、直接変更しない。
package session

import (
	"context"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
)

// IdentityProvider はControllerが利用する外部IdPのインターフェース。
type IdentityProvider interface {
	// GetSession は保存済みのIdPセッションを返す。存在しない場合はnilを返す。
	GetSession(ctx context.Context) (*model.ProviderSession, error)
	// OnAuthStateChange はIdPからプッシュされるイベントのハンドラーを登録する。
	// 戻り値の関数で購読を解除する。
	OnAuthStateChange(handler func(model.AuthEvent)) (unsubscribe func())
	// SignInWithPassword はパスワードグラントでログインする。
	SignInWithPassword(ctx context.Context, email, password string) (*model.ProviderSession, error)
	// SignInWithOAuth はOAuthフローを開始し、遷移先の認可URLを返す。
	SignInWithOAuth(ctx context.Context, provider string) (string, error)
	// SignUp はユーザーを登録する。メール確認が必要な場合はSessionがnilになる。
	SignUp(ctx context.Context, email, password string, hints model.ProfileHints) (*model.SignUpResult, error)
	// SignOut はIdPセッションを破棄する。
	SignOut(ctx context.Context) error
}

// ProfileStore はプロフィールの検索・作成インターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileStore interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// FindByWalletAddress はウォレットアドレスでプロフィールを取得する。見つからない場合はnilを返す。
	FindByWalletAddress(ctx context.Context, address string) (*model.Profile, error)
	// Create はプロフィールを作成する。一意制約違反はmodel.ErrProfileConflictを返す。
	Create(ctx context.Context, profile *model.Profile) error
}

// Navigator はホスト側のルーターを抽象化する。
type Navigator interface {
	Navigate(path string)
	CurrentPath() string
}

// ProfileSanitizer はIdPやユーザー入力由来のプロフィール項目を検査する。
type ProfileSanitizer interface {
	// SanitizeDisplayName は表示名からマークアップ等を取り除く。
	SanitizeDisplayName(name string) string
	// AcceptAvatarURL はアバターURLを保存・表示してよいかを返す。
	AcceptAvatarURL(ctx context.Context, rawURL string) bool
}

// MetricsRecorder は認証まわりのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordTransition(to model.Status)
	RecordLogin(method model.AuthMethod, outcome string)
	RecordProfileCreated(method model.AuthMethod)
	RecordGateRedirect(class route.Class)
	RecordProviderEvent(kind model.AuthEventKind, outcome string)
}

// ログイン結果・イベント処理結果のラベル値。
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"

	EventApplied    = "applied"
	EventCoalesced  = "coalesced"
	EventSuperseded = "superseded"
	EventFailed     = "failed"
)

type nopMetrics struct{}

func (nopMetrics) RecordTransition(model.Status)                    {}
func (nopMetrics) RecordLogin(model.AuthMethod, string)             {}
func (nopMetrics) RecordProfileCreated(model.AuthMethod)            {}
func (nopMetrics) RecordGateRedirect(route.Class)                   {}
func (nopMetrics) RecordProviderEvent(model.AuthEventKind, string) {}

type nopSanitizer struct{}

func (nopSanitizer) SanitizeDisplayName(name string) string          { return name }
func (nopSanitizer) AcceptAvatarURL(context.Context, string) bool     { return true }

type navigatorKey struct{}

// WithNavigator はリクエスト単位のNavigatorをコンテキストに格納する。
// Controllerはコンテキスト上のNavigatorをデフォルトより優先して使う。
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// NavigatorFromContext はコンテキスト上のNavigatorを返す。設定されていない場合はfalseを返す。
func NavigatorFromContext(ctx context.Context) (Navigator, bool) {
	nav, ok := ctx.Value(navigatorKey{}).(Navigator)
	return nav, ok && nav != nil
}
