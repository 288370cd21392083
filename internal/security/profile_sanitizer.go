package security

import (
	"context"
	"html"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数（rune単位）。
const MaxDisplayNameLength = 64

// ProfileSanitizer はIdPやユーザー入力由来のプロフィール項目を検査する。
// session.ProfileSanitizerを実装する。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
	guard  *URLGuard
	probe  bool
	logger *slog.Logger
}

// NewProfileSanitizer はProfileSanitizerを生成する。
// probeがtrueの場合、AcceptAvatarURLはSSRF防止付きクライアントでHEADリクエストを送り、
// 画像が返ることを確認する。
func NewProfileSanitizer(guard *URLGuard, probe bool, logger *slog.Logger) *ProfileSanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileSanitizer{
		policy: bluemonday.StrictPolicy(),
		guard:  guard,
		probe:  probe,
		logger: logger,
	}
}

// SanitizeDisplayName は表示名からタグと制御文字を取り除き、空白を正規化する。
// MaxDisplayNameLengthを超える部分は切り捨てる。
func (s *ProfileSanitizer) SanitizeDisplayName(name string) string {
	if name == "" {
		return ""
	}

	// StrictPolicyはエンティティをエスケープするため戻してから山括弧を除く
	cleaned := html.UnescapeString(s.policy.Sanitize(name))
	cleaned = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxDisplayNameLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	return cleaned
}

// AcceptAvatarURL はアバターURLを保存・表示してよいかを返す。
func (s *ProfileSanitizer) AcceptAvatarURL(ctx context.Context, rawURL string) bool {
	if err := s.guard.ValidateURL(rawURL); err != nil {
		s.logger.Debug("avatar url rejected", slog.String("reason", err.Error()))
		return false
	}
	if !s.probe {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.guard.Client().Do(req)
	if err != nil {
		s.logger.Debug("avatar probe failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "image/")
}
