// Package route はパスの分類とルートゲートの判定を提供する。
//
// 分類は純粋関数で、永続化しない。ルールはTOMLで定義し、
// バイナリに埋め込まれたデフォルト定義をROUTES_FILEで差し替えられる。
package route

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rovify/rovify/internal/model"
)

//go:embed routes.default.toml
var defaultRulesTOML []byte

// Class はパスの分類。
type Class string

const (
	// Public は認証状態に関係なく表示できるパス。
	Public Class = "public"
	// AuthEntry はログイン・登録画面。ログイン済みならランディングへ戻す。
	AuthEntry Class = "auth-entry"
	// Protected はログインが必要なパス。
	Protected Class = "protected"
)

func (c Class) valid() bool {
	switch c {
	case Public, AuthEntry, Protected:
		return true
	default:
		return false
	}
}

// MatchKind はルールの照合方法。
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// Rule は1件の分類ルール。
type Rule struct {
	Path  string    `toml:"path"`
	Match MatchKind `toml:"match"`
	Class Class     `toml:"class"`
}

// Rules は分類ルール一式とリダイレクト先を保持する。
// 読み込み後はイミュータブルとして扱う。
type Rules struct {
	LoginPath   string `toml:"login_path"`
	LandingPath string `toml:"landing_path"`
	Default     Class  `toml:"default"`
	Rules       []Rule `toml:"rule"`
}

// DefaultRules は埋め込みのデフォルトルールを返す。
func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRulesTOML)
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded route rules: %v", err))
	}
	return rules
}

// LoadRules はTOMLファイルからルールを読み込む。
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules はTOMLのルール定義をパースして検証する。
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := toml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse route rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate はルール定義の整合性を検証する。
// ログイン画面が保護されていたり、ランディングがログイン画面扱いだと
// リダイレクトがループするため拒否する。
func (r *Rules) Validate() error {
	if r.LoginPath == "" || r.LandingPath == "" {
		return fmt.Errorf("login_path and landing_path are required")
	}
	if r.Default == "" {
		r.Default = Protected
	}
	if !r.Default.valid() {
		return fmt.Errorf("invalid default class: %q", r.Default)
	}
	for i, rule := range r.Rules {
		if !strings.HasPrefix(rule.Path, "/") {
			return fmt.Errorf("rule %d: path must start with '/': %q", i, rule.Path)
		}
		if rule.Match == "" {
			r.Rules[i].Match = MatchExact
		} else if rule.Match != MatchExact && rule.Match != MatchPrefix {
			return fmt.Errorf("rule %d: invalid match %q", i, rule.Match)
		}
		if !rule.Class.valid() {
			return fmt.Errorf("rule %d: invalid class %q", i, rule.Class)
		}
	}
	if c := r.Classify(r.LoginPath); c == Protected {
		return fmt.Errorf("login_path %s must not be protected", r.LoginPath)
	}
	if c := r.Classify(r.LandingPath); c == AuthEntry {
		return fmt.Errorf("landing_path %s must not be an auth entry", r.LandingPath)
	}
	return nil
}

// Classify はパスを分類する。完全一致を優先し、次に最長の前方一致、
// どれにも一致しなければDefaultを返す。クエリ文字列とフラグメントは無視する。
func (r *Rules) Classify(path string) Class {
	p := normalizePath(path)

	for _, rule := range r.Rules {
		if rule.Match == MatchExact && normalizePath(rule.Path) == p {
			return rule.Class
		}
	}

	best := -1
	class := r.Default
	for _, rule := range r.Rules {
		if rule.Match != MatchPrefix {
			continue
		}
		base := normalizePath(rule.Path)
		if p == base || base == "/" || strings.HasPrefix(p, base+"/") {
			if len(base) > best {
				best = len(base)
				class = rule.Class
			}
		}
	}
	return class
}

// normalizePath はクエリ・フラグメント・末尾スラッシュを取り除く。
func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// Action はルートゲートの判定結果の種類。
type Action string

const (
	// ActionAllow はそのまま表示してよい。
	ActionAllow Action = "allow"
	// ActionRedirect はTargetへリダイレクトする。
	ActionRedirect Action = "redirect"
	// ActionWait は初期化中のため判定を保留し、ローディング表示にする。
	ActionWait Action = "wait"
)

// Decision はルートゲートの判定結果。
type Decision struct {
	Action Action
	Target string
	Class  Class
}

// Decide は認証状態とパスからゲートの判定を返す純粋関数。
//   - 初期化中: 保留
//   - 未ログイン + protected: ログイン画面へ
//   - ログイン済み + auth-entry: ランディングへ
//   - それ以外: 許可
func (r *Rules) Decide(status model.Status, path string) Decision {
	class := r.Classify(path)

	switch {
	case status == model.StatusInitializing:
		return Decision{Action: ActionWait, Class: class}
	case status == model.StatusUnauthenticated && class == Protected:
		return Decision{Action: ActionRedirect, Target: r.LoginPath, Class: class}
	case status == model.StatusAuthenticated && class == AuthEntry:
		return Decision{Action: ActionRedirect, Target: r.LandingPath, Class: class}
	default:
		return Decision{Action: ActionAllow, Class: class}
	}
}
