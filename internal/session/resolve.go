package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/wallet"
)

// ResolveIdentity はIdPの主体からIdentityを解決する。
// プロフィールが存在すればマージし、存在しなければ作成する。
// 同一主体に対する同時呼び出しは1回の解決にまとめる。共有される解決処理は
// 呼び出し元のキャンセルを引き継がず、eventTimeoutを期限として実行される。
// ctxが先に終了した場合はその呼び出しだけがctx.Err()で戻る。
// 失敗した場合はmodel.ErrProfileResolutionを返す。
func (c *Controller) ResolveIdentity(ctx context.Context, principal model.Principal) (*model.Identity, error) {
	if principal.ID == "" {
		return nil, model.NewProfileResolutionError(fmt.Errorf("principal has no id"))
	}

	ch := c.resolveGroup.DoChan(principal.ID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.eventTimeout)
		defer cancel()
		return c.resolveIdentity(shared, principal)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Identity).Clone(), nil
	case <-ctx.Done():
		return nil, model.NewProfileResolutionError(ctx.Err())
	}
}

func (c *Controller) resolveIdentity(ctx context.Context, principal model.Principal) (*model.Identity, error) {
	profile, err := c.profiles.FindByID(ctx, principal.ID)
	if err != nil {
		return nil, model.NewProfileResolutionError(fmt.Errorf("failed to fetch profile: %w", err))
	}
	if profile == nil {
		profile, err = c.createProfile(ctx, principal)
		if err != nil {
			return nil, model.NewProfileResolutionError(err)
		}
	}

	ident := c.mergeIdentity(ctx, principal, profile)
	if err := ident.Validate(); err != nil {
		return nil, model.NewProfileResolutionError(err)
	}
	return ident, nil
}

// createProfile は主体の情報から初期プロフィールを作成する。
// 並行作成で一意制約に違反した場合は、作成済みのプロフィールを取得し直す。
func (c *Controller) createProfile(ctx context.Context, principal model.Principal) (*model.Profile, error) {
	now := time.Now()
	profile := &model.Profile{
		ID:          principal.ID,
		Email:       principal.Email,
		DisplayName: c.sanitizer.SanitizeDisplayName(principal.DisplayName),
		AuthMethod:  model.AuthMethodFromProvider(principal.Provider),
		Verified:    principal.EmailConfirmed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = displayNameFromEmail(principal.Email)
	}
	if principal.AvatarURL != "" && c.sanitizer.AcceptAvatarURL(ctx, principal.AvatarURL) {
		profile.AvatarURL = principal.AvatarURL
	}

	err := c.profiles.Create(ctx, profile)
	if errors.Is(err, model.ErrProfileConflict) {
		existing, findErr := c.profiles.FindByID(ctx, principal.ID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to refetch conflicting profile: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("profile %s conflicted but was not found", principal.ID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	c.metrics.RecordProfileCreated(profile.AuthMethod)
	c.logger.Info("profile created",
		slog.String("user_id", profile.ID),
		slog.String("auth_method", string(profile.AuthMethod)),
	)
	return profile, nil
}

// mergeIdentity はプロフィールと主体のメタデータをマージする。
// 両方に値がある項目はプロフィールを優先する。
func (c *Controller) mergeIdentity(ctx context.Context, principal model.Principal, profile *model.Profile) *model.Identity {
	ident := &model.Identity{
		ID:            profile.ID,
		Email:         firstNonEmpty(profile.Email, principal.Email),
		DisplayName:   firstNonEmpty(profile.DisplayName, c.sanitizer.SanitizeDisplayName(principal.DisplayName)),
		AvatarURL:     profile.AvatarURL,
		WalletAddress: profile.WalletAddress,
		AuthMethod:    model.AuthMethodFromProvider(principal.Provider),
		Role:          profile.Role(),
		Verified:      profile.Verified,
	}
	if ident.AvatarURL == "" && principal.AvatarURL != "" && c.sanitizer.AcceptAvatarURL(ctx, principal.AvatarURL) {
		ident.AvatarURL = principal.AvatarURL
	}
	return ident
}

// resolveWallet はウォレットアドレスに紐づくIdentityを解決する。
// プロフィールがなければアプリ側で採番して作成する。
func (c *Controller) resolveWallet(ctx context.Context, address, displayNameHint string) (*model.Identity, error) {
	normalized, err := wallet.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	profile, err := c.profiles.FindByWalletAddress(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet profile: %w", err)
	}
	if profile == nil {
		profile, err = c.createWalletProfile(ctx, normalized, displayNameHint)
		if err != nil {
			return nil, err
		}
	}

	ident := &model.Identity{
		ID:            profile.ID,
		Email:         profile.Email,
		DisplayName:   firstNonEmpty(profile.DisplayName, wallet.ShortAddress(normalized)),
		AvatarURL:     profile.AvatarURL,
		WalletAddress: normalized,
		AuthMethod:    model.AuthMethodWallet,
		Role:          profile.Role(),
		Verified:      profile.Verified,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return ident, nil
}

func (c *Controller) createWalletProfile(ctx context.Context, address, displayNameHint string) (*model.Profile, error) {
	now := time.Now()
	profile := &model.Profile{
		ID:            uuid.New().String(),
		DisplayName:   c.sanitizer.SanitizeDisplayName(displayNameHint),
		WalletAddress: address,
		AuthMethod:    model.AuthMethodWallet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = wallet.ShortAddress(address)
	}

	err := c.profiles.Create(ctx, profile)
	if errors.Is(err, model.ErrProfileConflict) {
		existing, findErr := c.profiles.FindByWalletAddress(ctx, address)
		if findErr != nil {
			return nil, fmt.Errorf("failed to refetch conflicting wallet profile: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("wallet profile %s conflicted but was not found", address)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet profile: %w", err)
	}

	c.metrics.RecordProfileCreated(model.AuthMethodWallet)
	c.logger.Info("wallet profile created",
		slog.String("user_id", profile.ID),
		slog.String("wallet_address", address),
	)
	return profile, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// displayNameFromEmail はメールアドレスのローカル部を表示名として使う。
func displayNameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
