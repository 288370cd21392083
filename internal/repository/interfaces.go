// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/rovify/rovify/internal/model"
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByWalletAddress は正規化済みウォレットアドレスでプロフィールを検索する。
	// 見つからない場合はnilを返す。
	FindByWalletAddress(ctx context.Context, address string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	// IDまたはウォレットアドレスが既に存在する場合はmodel.ErrProfileConflictを返す。
	Create(ctx context.Context, profile *model.Profile) error
}

// ProviderSessionRepository はIdPセッションとOAuthフロー状態の永続化インターフェース。
// 1クライアントにつき1セッションのみ保持する。
type ProviderSessionRepository interface {
	// LoadSession は保存済みのセッションを返す。存在しない場合はnilを返す。
	LoadSession(ctx context.Context) (*model.ProviderSession, error)

	// SaveSession はセッションを保存する。既存のセッションは上書きされる。
	SaveSession(ctx context.Context, session *model.ProviderSession) error

	// ClearSession はセッションを削除する。存在しない場合もエラーにしない。
	ClearSession(ctx context.Context) error

	// SaveCodeVerifier は進行中のOAuthフローのcode verifierを保存する。
	SaveCodeVerifier(ctx context.Context, verifier string) error

	// TakeCodeVerifier はcode verifierを取り出して削除する。
	// 存在しない場合や期限切れの場合は空文字を返す。
	TakeCodeVerifier(ctx context.Context) (string, error)
}
