package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rovify/rovify/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

const profileColumns = `id, email, display_name, avatar_url, wallet_address, auth_method,
	is_admin, is_organiser, verified, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db, now: time.Now}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	profile, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return profile, nil
}

// FindByWalletAddress は正規化済みウォレットアドレスでプロフィールを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByWalletAddress(ctx context.Context, address string) (*model.Profile, error) {
	profile, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM users WHERE wallet_address = $1`,
		address,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by wallet address: %w", err)
	}
	return profile, nil
}

// Create はプロフィールを作成する。
// CreatedAt・UpdatedAtが未設定の場合は現在時刻を設定する。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = r.now()
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = profile.CreatedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		profile.ID, nullString(profile.Email), profile.DisplayName, profile.AvatarURL,
		nullString(profile.WalletAddress), string(profile.AuthMethod),
		profile.IsAdmin, profile.IsOrganiser, profile.Verified,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("failed to insert profile %s: %w", profile.ID, model.ErrProfileConflict)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	return nil
}

// scanProfile は1行をプロフィールに変換する。行がない場合はnil,nilを返す。
func scanProfile(row *sql.Row) (*model.Profile, error) {
	profile := &model.Profile{}
	var email, wallet sql.NullString
	var authMethod string

	err := row.Scan(
		&profile.ID, &email, &profile.DisplayName, &profile.AvatarURL, &wallet, &authMethod,
		&profile.IsAdmin, &profile.IsOrganiser, &profile.Verified,
		&profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile.Email = email.String
	profile.WalletAddress = wallet.String
	profile.AuthMethod = model.AuthMethod(authMethod)
	return profile, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
