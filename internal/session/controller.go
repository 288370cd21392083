package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
)

const (
	// DefaultDebounceWindow はIdPイベントを集約する既定の待ち時間。
	DefaultDebounceWindow = 50 * time.Millisecond
	// DefaultEventTimeout はイベント適用時のプロフィール解決の既定タイムアウト。
	DefaultEventTimeout = 15 * time.Second

	registrationPendingMessage = "Check your email to confirm your account, then sign in."
)

// errSignInSuperseded はログイン処理中にログアウト等の新しい操作が始まったことを示す。
var errSignInSuperseded = errors.New("sign-in superseded by a newer session change")

// Deps はControllerの依存関係。
// Provider・Profilesは必須、それ以外は省略可能。
type Deps struct {
	Provider  IdentityProvider
	Profiles  ProfileStore
	Navigator Navigator
	Metrics   MetricsRecorder
	Sanitizer ProfileSanitizer
	Logger    *slog.Logger
}

// Config はControllerの動作設定。
type Config struct {
	// Rules はルートゲートの分類ルール。nilの場合は埋め込みのデフォルトを使う。
	Rules *route.Rules
	// DebounceWindow はIdPイベントの集約時間。0以下の場合はDefaultDebounceWindow。
	DebounceWindow time.Duration
	// EventTimeout はイベント適用時のタイムアウト。0以下の場合はDefaultEventTimeout。
	EventTimeout time.Duration
}

// RegistrationResult はRegisterの結果。
// PendingConfirmationがtrueの場合はメール確認待ちで、Identityはnil。
type RegistrationResult struct {
	Identity            *model.Identity
	PendingConfirmation bool
	Message             string
}

// pendingEvent はデバウンス中のIdPイベント。
type pendingEvent struct {
	event  model.AuthEvent
	ticket uint64
}

// gateKey はルートゲートの重複抑止に使う直前の入力。
type gateKey struct {
	status model.Status
	path   string
}

// Controller は認証セッションの唯一の所有者。
//
// 状態の更新はすべて世代番号（gen）で順序付けする。IdPイベントは到着時に
// 世代を進めて予約し、デバウンス後に予約時の世代のままであれば適用する。
// ログイン操作も開始時の世代で確定し、その間に新しいイベントや操作が
// 始まっていれば結果を破棄する。ログアウトだけは無条件に適用する。
type Controller struct {
	provider     IdentityProvider
	profiles     ProfileStore
	nav          Navigator
	metrics      MetricsRecorder
	sanitizer    ProfileSanitizer
	logger       *slog.Logger
	rules        *route.Rules
	debounce     time.Duration
	eventTimeout time.Duration

	resolveGroup singleflight.Group
	initOnce     sync.Once

	mu           sync.Mutex
	state        model.Session
	gen          uint64
	pending      *pendingEvent
	timer        *time.Timer
	lastGate     gateKey
	gateSeen     bool
	observers    map[uint64]func(model.Session)
	nextObserver uint64
	baseCtx      context.Context
	started      bool
	stopFns      []func()

	// notifyMu はオブザーバーへの通知順序をコミット順に揃える。
	notifyMu sync.Mutex
}

// NewController はControllerを生成する。初期状態はInitializing。
func NewController(deps Deps, cfg Config) *Controller {
	c := &Controller{
		provider:     deps.Provider,
		profiles:     deps.Profiles,
		nav:          deps.Navigator,
		metrics:      deps.Metrics,
		sanitizer:    deps.Sanitizer,
		logger:       deps.Logger,
		rules:        cfg.Rules,
		debounce:     cfg.DebounceWindow,
		eventTimeout: cfg.EventTimeout,
		state:        model.Session{Status: model.StatusInitializing},
		observers:    make(map[uint64]func(model.Session)),
		baseCtx:      context.Background(),
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.sanitizer == nil {
		c.sanitizer = nopSanitizer{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.rules == nil {
		c.rules = route.DefaultRules()
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounceWindow
	}
	if c.eventTimeout <= 0 {
		c.eventTimeout = DefaultEventTimeout
	}
	return c
}

// Rules はルートゲートの分類ルールを返す。
func (c *Controller) Rules() *route.Rules {
	return c.rules
}

// Start はIdPイベントの購読を開始し、初期化を行う。
// デフォルトNavigatorが設定されている場合は状態変化のたびに
// 現在のパスに対してルートゲートを評価する。
// ctxはイベント適用時の親コンテキストとして保持される。
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.baseCtx = ctx
	c.mu.Unlock()

	unsubscribe := c.provider.OnAuthStateChange(c.handleProviderEvent)
	stopFns := []func(){unsubscribe}
	if c.nav != nil {
		stopFns = append(stopFns, c.Subscribe(func(model.Session) {
			c.EnforceRouteGate(context.Background(), c.nav.CurrentPath())
		}))
	}

	c.mu.Lock()
	c.stopFns = stopFns
	c.mu.Unlock()

	c.Initialize(ctx)
}

// Stop はイベント購読を解除し、保留中のイベントを破棄する。
// 初期化が終わっていない場合はUnauthenticatedで確定する。
func (c *Controller) Stop() {
	c.mu.Lock()
	c.cancelPendingLocked()
	stopFns := c.stopFns
	c.stopFns = nil
	c.mu.Unlock()

	for _, fn := range stopFns {
		fn()
	}

	c.mu.Lock()
	if c.state.Status != model.StatusInitializing {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.applyAndNotify(model.StatusUnauthenticated, nil, nil)
}

// Initialize は保存済みのIdPセッションから状態を復元する。
// 2回目以降の呼び出しは何もしない。失敗した場合はUnauthenticatedで確定する。
// 初期化中にIdPイベントが到着した場合は、そのイベントの結果を優先する。
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		c.initialize(ctx)
	})
}

func (c *Controller) initialize(ctx context.Context) {
	c.mu.Lock()
	ticket := c.gen
	c.mu.Unlock()

	ps, err := c.provider.GetSession(ctx)
	if err != nil {
		c.logger.Warn("failed to restore session, continuing signed out",
			slog.String("error", err.Error()),
		)
		c.commit(ticket, model.StatusUnauthenticated, nil, asProviderError(err))
		return
	}
	if ps == nil {
		c.commit(ticket, model.StatusUnauthenticated, nil, nil)
		return
	}

	ident, err := c.ResolveIdentity(ctx, ps.User)
	if err != nil {
		c.logger.Error("failed to resolve identity for restored session",
			slog.String("principal_id", ps.User.ID),
			slog.String("error", err.Error()),
		)
		c.commit(ticket, model.StatusUnauthenticated, nil, err)
		return
	}
	if !c.commit(ticket, model.StatusAuthenticated, ident, nil) {
		c.logger.Debug("restored session superseded by provider event")
	}
}

// Snapshot は現在の状態のコピーを返す。
func (c *Controller) Snapshot() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.Session {
	return model.Session{
		Status:    c.state.Status,
		Identity:  c.state.Identity.Clone(),
		LastError: c.state.LastError,
	}
}

// Subscribe は状態変化のオブザーバーを登録する。戻り値の関数で解除する。
// 通知はコミット順に1つずつ同期的に行われる。オブザーバー内から
// Login等の状態を変更する操作を同期的に呼んではならない。
func (c *Controller) Subscribe(observer func(model.Session)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = observer
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// Await は状態がpredicateを満たすまで待つ。
// ctxが終了した場合はその時点のスナップショットとctx.Err()を返す。
func (c *Controller) Await(ctx context.Context, predicate func(model.Session) bool) (model.Session, error) {
	ch := make(chan model.Session, 1)
	cancel := c.Subscribe(func(s model.Session) {
		if predicate(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer cancel()

	if s := c.Snapshot(); predicate(s) {
		return s, nil
	}

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Settled は初期化が完了した状態かどうかを判定するAwait用の述語。
func Settled(s model.Session) bool {
	return s.Status != model.StatusInitializing
}

// commit はticketが現在の世代と一致する場合のみ状態を更新する。
// 更新した場合はtrueを返す。
func (c *Controller) commit(ticket uint64, status model.Status, ident *model.Identity, lastErr error) bool {
	c.mu.Lock()
	if ticket != c.gen {
		c.mu.Unlock()
		return false
	}
	c.applyAndNotify(status, ident, lastErr)
	return true
}

// commitAdvance はcommitと同様だが、更新時に世代を進めて
// それまでに予約されたIdPイベントを無効にする。
func (c *Controller) commitAdvance(ticket uint64, status model.Status, ident *model.Identity, lastErr error) bool {
	c.mu.Lock()
	if ticket != c.gen {
		c.mu.Unlock()
		return false
	}
	c.gen++
	c.applyAndNotify(status, ident, lastErr)
	return true
}

// commitNew は世代を進め、保留中のIdPイベントを破棄して無条件に状態を更新する。
func (c *Controller) commitNew(status model.Status, ident *model.Identity, lastErr error) {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.gen++
	c.applyAndNotify(status, ident, lastErr)
}

// reserve は世代を進めてそのticketを返す。予約済みのIdPイベントは適用されなくなる。
func (c *Controller) reserve() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen
}

// currentTicket は現在の世代を返す。
func (c *Controller) currentTicket() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// applyAndNotify はc.muを保持した状態で呼び出し、c.muを解放して返る。
func (c *Controller) applyAndNotify(status model.Status, ident *model.Identity, lastErr error) {
	prev := c.state
	c.state = model.Session{
		Status:    status,
		Identity:  ident.Clone(),
		LastError: lastErr,
	}

	statusChanged := prev.Status != status
	changed := statusChanged ||
		!sameIdentity(prev.Identity, ident) ||
		(prev.LastError == nil) != (lastErr == nil) ||
		lastErr != nil
	if !changed {
		c.mu.Unlock()
		return
	}
	if statusChanged {
		c.gateSeen = false
	}

	snap := c.snapshotLocked()
	observers := make([]func(model.Session), 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if statusChanged {
		c.metrics.RecordTransition(status)
		c.logger.Info("session status changed",
			slog.String("from", string(prev.Status)),
			slog.String("to", string(status)),
		)
	}
	for _, o := range observers {
		o(snap)
	}
}

func sameIdentity(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *Controller) cancelPendingLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

// handleProviderEvent はIdPイベントを予約する。
// デバウンス時間内に届いた後続イベントは先行イベントを置き換える。
func (c *Controller) handleProviderEvent(ev model.AuthEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.metrics.RecordProviderEvent(c.pending.event.Kind, EventCoalesced)
	}
	c.gen++
	ticket := c.gen
	c.pending = &pendingEvent{event: ev, ticket: ticket}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.flush(ticket)
	})
}

func (c *Controller) flush(ticket uint64) {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.ticket != ticket {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.timer = nil
	if ticket != c.gen {
		c.mu.Unlock()
		c.metrics.RecordProviderEvent(p.event.Kind, EventSuperseded)
		return
	}
	ctx := c.baseCtx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.eventTimeout)
	defer cancel()
	c.applyEvent(ctx, p)
}

func (c *Controller) applyEvent(ctx context.Context, p *pendingEvent) {
	ev := p.event
	outcome := EventApplied
	defer func() {
		c.metrics.RecordProviderEvent(ev.Kind, outcome)
	}()

	switch ev.Kind {
	case model.AuthEventSignedOut:
		if !c.commit(p.ticket, model.StatusUnauthenticated, nil, nil) {
			outcome = EventSuperseded
		}

	case model.AuthEventSignedIn:
		if ev.Session == nil {
			c.logger.Warn("signed-in event without session")
			outcome = EventFailed
			c.commit(p.ticket, model.StatusUnauthenticated, nil,
				model.NewAuthProviderError(fmt.Errorf("signed-in event carried no session")))
			return
		}

		// 同一主体が既にログイン済みなら再解決しない
		snap := c.Snapshot()
		if snap.Authenticated() && snap.Identity.ID == ev.Session.User.ID {
			if !c.commit(p.ticket, model.StatusAuthenticated, snap.Identity, nil) {
				outcome = EventSuperseded
			}
			return
		}

		ident, err := c.ResolveIdentity(ctx, ev.Session.User)
		if err != nil {
			c.logger.Error("failed to resolve identity for signed-in event",
				slog.String("principal_id", ev.Session.User.ID),
				slog.String("error", err.Error()),
			)
			outcome = EventFailed
			if !c.commit(p.ticket, model.StatusUnauthenticated, nil, err) {
				outcome = EventSuperseded
			}
			return
		}
		if !c.commit(p.ticket, model.StatusAuthenticated, ident, nil) {
			outcome = EventSuperseded
		}

	default:
		c.logger.Warn("ignoring unknown provider event", slog.String("kind", string(ev.Kind)))
		outcome = EventFailed
	}
}

// Login はメールアドレスとパスワードでログインする。
// 成功するとAuthenticatedに遷移し、ランディングページへ遷移する。
// 認証情報が拒否された場合は状態を変えずにエラーを返す。
func (c *Controller) Login(ctx context.Context, email, password string) (*model.Identity, error) {
	c.Initialize(ctx)

	ps, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.metrics.RecordLogin(model.AuthMethodPassword, loginOutcome(err))
		c.logger.Info("password sign-in rejected", slog.String("error", err.Error()))
		return nil, asProviderError(err)
	}

	// サインイン時にIdPが通知したSignedInイベントはこのticketで置き換える
	ticket := c.reserve()
	ident, err := c.establish(ctx, ticket, ps)
	if err != nil {
		c.metrics.RecordLogin(model.AuthMethodPassword, OutcomeError)
		return nil, err
	}
	c.metrics.RecordLogin(model.AuthMethodPassword, OutcomeSuccess)
	return ident, nil
}

// LoginWithOAuth はOAuthフローを開始し、認可URLへ遷移する。
// 状態の確定はコールバック後のIdPイベントで行われる。
func (c *Controller) LoginWithOAuth(ctx context.Context, provider string) error {
	c.Initialize(ctx)

	method := model.AuthMethodFromProvider(provider)
	authorizeURL, err := c.provider.SignInWithOAuth(ctx, provider)
	if err != nil {
		c.metrics.RecordLogin(method, loginOutcome(err))
		c.logger.Warn("failed to start oauth sign-in",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return asProviderError(err)
	}
	c.navigate(ctx, authorizeURL)
	return nil
}

// Register はユーザーを登録する。
// IdPがセッションを返した場合はログインと同様にAuthenticatedへ遷移する。
// メール確認が必要な場合は状態を変えず、メッセージ付きでログイン画面へ遷移する。
func (c *Controller) Register(ctx context.Context, displayName, email, password string) (*RegistrationResult, error) {
	c.Initialize(ctx)

	displayName = c.sanitizer.SanitizeDisplayName(displayName)
	res, err := c.provider.SignUp(ctx, email, password, model.ProfileHints{DisplayName: displayName})
	if err != nil {
		c.metrics.RecordLogin(model.AuthMethodPassword, OutcomeError)
		c.logger.Info("sign-up rejected", slog.String("error", err.Error()))
		if errors.Is(err, model.ErrRegistration) {
			return nil, err
		}
		return nil, model.NewRegistrationError("", err)
	}

	if res.Session == nil {
		c.logger.Info("sign-up requires email confirmation", slog.String("principal_id", res.User.ID))
		target := c.rules.LoginPath + "?" + url.Values{"message": {registrationPendingMessage}}.Encode()
		c.navigate(ctx, target)
		return &RegistrationResult{PendingConfirmation: true, Message: registrationPendingMessage}, nil
	}

	ps := *res.Session
	if ps.User.DisplayName == "" {
		ps.User.DisplayName = displayName
	}
	ticket := c.reserve()
	ident, err := c.establish(ctx, ticket, &ps)
	if err != nil {
		c.metrics.RecordLogin(model.AuthMethodPassword, OutcomeError)
		return nil, err
	}
	c.metrics.RecordLogin(model.AuthMethodPassword, OutcomeSuccess)
	return &RegistrationResult{Identity: ident}, nil
}

// LoginWithWallet はウォレットアドレスでログインする。IdPは経由しない。
// 該当するプロフィールがなければ作成する。
func (c *Controller) LoginWithWallet(ctx context.Context, address, displayNameHint string) (*model.Identity, error) {
	c.Initialize(ctx)

	ticket := c.currentTicket()
	ident, err := c.resolveWallet(ctx, address, displayNameHint)
	if err != nil {
		c.metrics.RecordLogin(model.AuthMethodWallet, OutcomeError)
		c.logger.Warn("wallet sign-in failed", slog.String("error", err.Error()))
		return nil, model.NewWalletLinkError(err)
	}

	if !c.commitAdvance(ticket, model.StatusAuthenticated, ident, nil) {
		c.metrics.RecordLogin(model.AuthMethodWallet, OutcomeError)
		c.logger.Info("wallet sign-in superseded", slog.String("user_id", ident.ID))
		return nil, model.NewAuthProviderError(errSignInSuperseded)
	}
	c.metrics.RecordLogin(model.AuthMethodWallet, OutcomeSuccess)
	c.navigate(ctx, c.rules.LandingPath)
	return ident.Clone(), nil
}

// Logout はローカルの状態を即座にUnauthenticatedにしてからIdPセッションを破棄する。
// IdP側の失敗はログに残すだけで、ローカルの状態は戻さない。
func (c *Controller) Logout(ctx context.Context) {
	c.commitNew(model.StatusUnauthenticated, nil, nil)

	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Warn("provider sign-out failed, local session already cleared",
			slog.String("error", err.Error()),
		)
	}
	c.navigate(ctx, c.rules.LoginPath)
}

// establish はIdPセッションからIdentityを解決してticketの世代で状態を確定し、ランディングへ遷移する。
// 解決に失敗した場合はUnauthenticatedで確定する。
// 解決中にログアウト等の新しい操作が始まっていた場合は何も確定せずエラーを返す。
func (c *Controller) establish(ctx context.Context, ticket uint64, ps *model.ProviderSession) (*model.Identity, error) {
	ident, err := c.ResolveIdentity(ctx, ps.User)
	if err != nil {
		c.logger.Error("failed to resolve identity after sign-in",
			slog.String("principal_id", ps.User.ID),
			slog.String("error", err.Error()),
		)
		c.commit(ticket, model.StatusUnauthenticated, nil, err)
		return nil, err
	}
	if !c.commit(ticket, model.StatusAuthenticated, ident, nil) {
		c.logger.Info("sign-in superseded by a newer session change",
			slog.String("principal_id", ps.User.ID),
		)
		return nil, model.NewAuthProviderError(errSignInSuperseded)
	}
	c.navigate(ctx, c.rules.LandingPath)
	return ident, nil
}

// GateDecision は現在の状態でpathを表示してよいかを判定する。副作用はない。
func (c *Controller) GateDecision(path string) route.Decision {
	c.mu.Lock()
	status := c.state.Status
	c.mu.Unlock()
	return c.rules.Decide(status, path)
}

// EnforceRouteGate はpathに対するゲート判定を行い、必要ならNavigatorで遷移させる。
// デフォルトNavigatorでは、直前と同じ（状態, パス）の組に対しては遷移を繰り返さない。
// 遷移先が現在のパスと同じ場合も遷移しない。
func (c *Controller) EnforceRouteGate(ctx context.Context, path string) route.Decision {
	nav, scoped := NavigatorFromContext(ctx)
	if !scoped {
		nav = c.nav
	}

	c.mu.Lock()
	status := c.state.Status
	d := c.rules.Decide(status, path)
	duplicate := false
	if !scoped {
		key := gateKey{status: status, path: path}
		duplicate = c.gateSeen && c.lastGate == key
		c.lastGate = key
		c.gateSeen = true
	}
	c.mu.Unlock()

	if d.Action != route.ActionRedirect || duplicate || nav == nil {
		return d
	}
	if nav.CurrentPath() == d.Target {
		return d
	}

	c.metrics.RecordGateRedirect(d.Class)
	c.logger.Debug("route gate redirect",
		slog.String("path", path),
		slog.String("target", d.Target),
		slog.String("status", string(status)),
	)
	nav.Navigate(d.Target)
	return d
}

func (c *Controller) navigate(ctx context.Context, target string) {
	nav, ok := NavigatorFromContext(ctx)
	if !ok {
		nav = c.nav
	}
	if nav == nil {
		c.logger.Debug("no navigator, skipping navigation", slog.String("target", target))
		return
	}
	nav.Navigate(target)
}

// asProviderError はIdPクライアントのエラーをAuthErrorに揃える。
func asProviderError(err error) error {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return model.NewAuthProviderError(err)
}

func loginOutcome(err error) string {
	if errors.Is(err, model.ErrInvalidCredentials) {
		return OutcomeInvalidCredentials
	}
	return OutcomeError
}
