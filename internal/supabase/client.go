// Package supabase はSupabase Auth（GoTrue）のRESTクライアントを提供する。
//
// IdPセッションはSessionStoreに永続化し、サインイン・サインアウトの結果を
// OnAuthStateChangeで登録されたハンドラーへ通知する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/sync/singleflight"

	"github.com/rovify/rovify/internal/model"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	defaultRefreshLeeway  = 30 * time.Second

	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// SessionStore はIdPセッションとPKCEのcode verifierを保存する。
type SessionStore interface {
	// LoadSession は保存済みのセッションを返す。存在しない場合はnilを返す。
	LoadSession(ctx context.Context) (*model.ProviderSession, error)
	SaveSession(ctx context.Context, session *model.ProviderSession) error
	ClearSession(ctx context.Context) error
	SaveCodeVerifier(ctx context.Context, verifier string) error
	// TakeCodeVerifier は保存済みのverifierを取り出して削除する。存在しない場合は空文字を返す。
	TakeCodeVerifier(ctx context.Context) (string, error)
}

// Config はクライアントの設定。
type Config struct {
	URL     string // プロジェクトURL（例: https://xyz.supabase.co）
	AnonKey string
	// JWTSecret が設定されている場合、復元したアクセストークンの署名を検証する。
	JWTSecret string
	// RedirectURL はOAuth・メール確認後の戻り先。
	RedirectURL string

	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	// RefreshLeeway だけ早めにアクセストークンを更新する。
	RefreshLeeway time.Duration
}

// Client はGoTrueのRESTクライアント。
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	store      SessionStore
	logger     *slog.Logger
	now        func() time.Time

	refreshGroup singleflight.Group

	mu          sync.Mutex
	handlers    map[int]func(model.AuthEvent)
	nextHandler int
}

// NewClient はClientを生成する。
func NewClient(cfg Config, store SessionStore, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase url and anon key are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid supabase url: %q", cfg.URL)
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = defaultRefreshLeeway
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   newExecutor(cfg),
		store:      store,
		logger:     logger,
		now:        time.Now,
		handlers:   make(map[int]func(model.AuthEvent)),
	}, nil
}

// newExecutor はネットワークエラー・5xx・429をリトライする実行器を生成する。
//
//nolint:bodyclose // *http.Response is a type parameter here
func newExecutor(cfg Config) failsafe.Executor[*http.Response] {
	maxDelay := defaultRetryMaxDelay
	if maxDelay < cfg.RetryBaseDelay {
		maxDelay = cfg.RetryBaseDelay
	}
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.RetryBaseDelay, maxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *http.Response, err error) bool {
			return shouldRetry(err)
		}).
		Build()
	return failsafe.With(retry)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	return true
}

// OnAuthStateChange はサインイン・サインアウトの通知先を登録する。
func (c *Client) OnAuthStateChange(handler func(model.AuthEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.handlers, id)
		})
	}
}

func (c *Client) emit(ev model.AuthEvent) {
	c.mu.Lock()
	handlers := make([]func(model.AuthEvent), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// endpoint はAuth APIのURLを組み立てる。
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/auth/v1" + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do はリクエストを送信し、2xxのレスポンスボディを返す。
// 4xx/5xxは*APIErrorとして返す。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	target := c.endpoint(path, query)

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("apikey", c.cfg.AnonKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		bearer := c.cfg.AnonKey
		if accessToken != "" {
			bearer = accessToken
		}
		req.Header.Set("Authorization", "Bearer "+bearer)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			return nil, parseAPIError(resp.StatusCode, data)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}
