// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// AuthMethod はIdentityに到達した認証経路を表す。
type AuthMethod string

const (
	// AuthMethodPassword はメールアドレス+パスワードによる認証。
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodOAuthGoogle はGoogle OAuthによる認証。
	AuthMethodOAuthGoogle AuthMethod = "oauth-google"
	// AuthMethodWallet はウォレットアドレスによる認証。
	AuthMethodWallet AuthMethod = "wallet"
)

// AuthMethodFromProvider はIdPのプロバイダー名を認証経路に変換する。
// 未知のプロバイダーはパスワード認証として扱う。
func AuthMethodFromProvider(provider string) AuthMethod {
	switch provider {
	case "google":
		return AuthMethodOAuthGoogle
	case "wallet":
		return AuthMethodWallet
	default:
		return AuthMethodPassword
	}
}

// Role はアプリケーション上の権限を表す。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOrganiser Role = "organiser"
	RoleAttendee  Role = "attendee"
)

// Principal はIdPが認証した主体の生データ。
// プロフィールとマージされる前の状態を表す。
type Principal struct {
	ID             string
	Email          string
	DisplayName    string
	AvatarURL      string
	Provider       string // "email", "google" 等
	EmailConfirmed bool
}

// Profile はusersテーブルに保存されるアプリケーション側のプロフィール。
// IDはIdPの主体IDと一致する（ウォレット認証の場合はアプリ側で採番する）。
type Profile struct {
	ID            string
	Email         string
	DisplayName   string
	AvatarURL     string
	WalletAddress string
	AuthMethod    AuthMethod
	IsAdmin       bool
	IsOrganiser   bool
	Verified      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role はプロフィールの権限フラグから権限を導出する。
// 昇格フラグがない場合はattendeeになる。
func (p *Profile) Role() Role {
	switch {
	case p.IsAdmin:
		return RoleAdmin
	case p.IsOrganiser:
		return RoleOrganiser
	default:
		return RoleAttendee
	}
}

// Identity は認証済みユーザーのマテリアライズ済みプロフィール。
type Identity struct {
	ID            string
	Email         string
	DisplayName   string
	AvatarURL     string
	WalletAddress string
	AuthMethod    AuthMethod
	Role          Role
	Verified      bool
}

// Validate はIdentityの不変条件を検証する。
// メール経由（パスワード/OAuth）ならEmail、ウォレット経由ならWalletAddressが必須。
func (i *Identity) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("identity id is empty")
	}
	switch i.AuthMethod {
	case AuthMethodWallet:
		if i.WalletAddress == "" {
			return fmt.Errorf("wallet identity %s has no wallet address", i.ID)
		}
	case AuthMethodPassword, AuthMethodOAuthGoogle:
		if i.Email == "" {
			return fmt.Errorf("identity %s has no email", i.ID)
		}
	default:
		return fmt.Errorf("identity %s has unknown auth method %q", i.ID, i.AuthMethod)
	}
	return nil
}

// Clone はIdentityのコピーを返す。nilの場合はnilを返す。
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// ProfileHints はサインアップ時にIdPへ渡すユーザーメタデータ。
type ProfileHints struct {
	DisplayName string
}
