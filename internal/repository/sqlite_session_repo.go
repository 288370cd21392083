package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rovify/rovify/internal/model"
)

// codeVerifierTTL はOAuthフロー開始からコールバックまでの有効期間。
const codeVerifierTTL = 10 * time.Minute

// SQLiteSessionRepo はローカルSQLiteにIdPセッションを保存するリポジトリ。
// スキーマはdatabase.MigrateLocalで作成する。
type SQLiteSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db, now: time.Now}
}

// LoadSession は保存済みのセッションを返す。存在しない場合はnilを返す。
func (r *SQLiteSessionRepo) LoadSession(ctx context.Context) (*model.ProviderSession, error) {
	session := &model.ProviderSession{}
	var expiresAt int64
	var confirmed bool

	err := r.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at,
		        user_id, user_email, user_provider, user_name, user_avatar_url, email_confirmed
		 FROM provider_session WHERE slot = 'current'`,
	).Scan(
		&session.AccessToken, &session.RefreshToken, &session.TokenType, &expiresAt,
		&session.User.ID, &session.User.Email, &session.User.Provider,
		&session.User.DisplayName, &session.User.AvatarURL, &confirmed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider session: %w", err)
	}

	if expiresAt > 0 {
		session.ExpiresAt = time.Unix(expiresAt, 0)
	}
	session.User.EmailConfirmed = confirmed
	return session, nil
}

// SaveSession はセッションを保存する。既存のセッションは上書きされる。
func (r *SQLiteSessionRepo) SaveSession(ctx context.Context, session *model.ProviderSession) error {
	if session == nil {
		return fmt.Errorf("provider session is nil")
	}

	var expiresAt int64
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt.Unix()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_session (slot, access_token, refresh_token, token_type, expires_at,
		     user_id, user_email, user_provider, user_name, user_avatar_url, email_confirmed, updated_at)
		 VALUES ('current', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slot) DO UPDATE SET
		     access_token = excluded.access_token,
		     refresh_token = excluded.refresh_token,
		     token_type = excluded.token_type,
		     expires_at = excluded.expires_at,
		     user_id = excluded.user_id,
		     user_email = excluded.user_email,
		     user_provider = excluded.user_provider,
		     user_name = excluded.user_name,
		     user_avatar_url = excluded.user_avatar_url,
		     email_confirmed = excluded.email_confirmed,
		     updated_at = excluded.updated_at`,
		session.AccessToken, session.RefreshToken, session.TokenType, expiresAt,
		session.User.ID, session.User.Email, session.User.Provider,
		session.User.DisplayName, session.User.AvatarURL, session.User.EmailConfirmed,
		r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save provider session: %w", err)
	}
	return nil
}

// ClearSession はセッションを削除する。
func (r *SQLiteSessionRepo) ClearSession(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM provider_session WHERE slot = 'current'`); err != nil {
		return fmt.Errorf("failed to clear provider session: %w", err)
	}
	return nil
}

// SaveCodeVerifier は進行中のOAuthフローのcode verifierを保存する。
// 新しいフローを開始すると以前のverifierは破棄される。
func (r *SQLiteSessionRepo) SaveCodeVerifier(ctx context.Context, verifier string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_flow (slot, code_verifier, created_at) VALUES ('current', ?, ?)
		 ON CONFLICT (slot) DO UPDATE SET code_verifier = excluded.code_verifier, created_at = excluded.created_at`,
		verifier, r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save code verifier: %w", err)
	}
	return nil
}

// TakeCodeVerifier はcode verifierを取り出して削除する。
// 存在しない場合や期限切れの場合は空文字を返す。
func (r *SQLiteSessionRepo) TakeCodeVerifier(ctx context.Context) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var verifier string
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT code_verifier, created_at FROM oauth_flow WHERE slot = 'current'`,
	).Scan(&verifier, &createdAt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load code verifier: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_flow WHERE slot = 'current'`); err != nil {
		return "", fmt.Errorf("failed to delete code verifier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	if r.now().Sub(time.Unix(createdAt, 0)) > codeVerifierTTL {
		return "", nil
	}
	return verifier, nil
}
