package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
)

// --- モック定義 ---

type mockProvider struct {
	getSessionFn  func(ctx context.Context) (*model.ProviderSession, error)
	signInFn      func(ctx context.Context, email, password string) (*model.ProviderSession, error)
	signInOAuthFn func(ctx context.Context, provider string) (string, error)
	signUpFn      func(ctx context.Context, email, password string, hints model.ProfileHints) (*model.SignUpResult, error)
	signOutFn     func(ctx context.Context) error

	mu              sync.Mutex
	handlers        map[int]func(model.AuthEvent)
	nextHandler     int
	getSessionCalls int
	signInCalls     int
	signOutCalls    int
}

func (m *mockProvider) GetSession(ctx context.Context) (*model.ProviderSession, error) {
	m.mu.Lock()
	m.getSessionCalls++
	m.mu.Unlock()
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockProvider) OnAuthStateChange(handler func(model.AuthEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[int]func(model.AuthEvent))
	}
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.ProviderSession, error) {
	m.mu.Lock()
	m.signInCalls++
	m.mu.Unlock()
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockProvider) SignInWithOAuth(ctx context.Context, provider string) (string, error) {
	if m.signInOAuthFn != nil {
		return m.signInOAuthFn(ctx, provider)
	}
	return "", nil
}

func (m *mockProvider) SignUp(ctx context.Context, email, password string, hints model.ProfileHints) (*model.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, hints)
	}
	return nil, nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOutCalls++
	m.mu.Unlock()
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

// emit は登録済みハンドラーへイベントを配送する。
func (m *mockProvider) emit(ev model.AuthEvent) {
	m.mu.Lock()
	handlers := make([]func(model.AuthEvent), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *mockProvider) counts() (getSession, signIn, signOut int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionCalls, m.signInCalls, m.signOutCalls
}

// memoryStore はプロフィールをメモリ上に保持するProfileStore。
type memoryStore struct {
	findByIDFn     func(ctx context.Context, id string) (*model.Profile, error)
	findByWalletFn func(ctx context.Context, address string) (*model.Profile, error)
	createFn       func(ctx context.Context, profile *model.Profile) error

	mu          sync.Mutex
	profiles    map[string]*model.Profile
	findCalls   map[string]int
	createCalls int
}

func newMemoryStore(profiles ...*model.Profile) *memoryStore {
	s := &memoryStore{
		profiles:  make(map[string]*model.Profile),
		findCalls: make(map[string]int),
	}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *memoryStore) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	s.findCalls[id]++
	s.mu.Unlock()
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (s *memoryStore) FindByWalletAddress(ctx context.Context, address string) (*model.Profile, error) {
	if s.findByWalletFn != nil {
		return s.findByWalletFn(ctx, address)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.WalletAddress == address {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Create(ctx context.Context, profile *model.Profile) error {
	s.mu.Lock()
	s.createCalls++
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, profile)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return model.ErrProfileConflict
	}
	c := *profile
	s.profiles[profile.ID] = &c
	return nil
}

func (s *memoryStore) creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *memoryStore) finds(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls[id]
}

// recordingNavigator は遷移先を記録するNavigator。
// followがtrueの場合はNavigateで現在のパスも更新する。
type recordingNavigator struct {
	mu      sync.Mutex
	current string
	follow  bool
	visits  []string
}

func (n *recordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits = append(n.visits, path)
	if n.follow {
		n.current = path
	}
}

func (n *recordingNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *recordingNavigator) navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.visits...)
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []model.Status
	logins      map[string]int
	created     map[model.AuthMethod]int
	redirects   map[route.Class]int
	events      map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		logins:    make(map[string]int),
		created:   make(map[model.AuthMethod]int),
		redirects: make(map[route.Class]int),
		events:    make(map[string]int),
	}
}

func (m *recordingMetrics) RecordTransition(to model.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *recordingMetrics) RecordLogin(method model.AuthMethod, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[string(method)+"/"+outcome]++
}

func (m *recordingMetrics) RecordProfileCreated(method model.AuthMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[method]++
}

func (m *recordingMetrics) RecordGateRedirect(class route.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[class]++
}

func (m *recordingMetrics) RecordProviderEvent(kind model.AuthEventKind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[string(kind)+"/"+outcome]++
}

func (m *recordingMetrics) login(method model.AuthMethod, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins[string(method)+"/"+outcome]
}

// --- compile-time interface checks ---
var _ IdentityProvider = (*mockProvider)(nil)
var _ ProfileStore = (*memoryStore)(nil)
var _ Navigator = (*recordingNavigator)(nil)
var _ MetricsRecorder = (*recordingMetrics)(nil)

// --- ヘルパー ---

const testDebounce = 20 * time.Millisecond

type fixture struct {
	ctrl     *Controller
	provider *mockProvider
	store    *memoryStore
	nav      *recordingNavigator
	metrics  *recordingMetrics
}

func newFixture(t *testing.T, provider *mockProvider, store *memoryStore) *fixture {
	t.Helper()
	if provider == nil {
		provider = &mockProvider{}
	}
	if store == nil {
		store = newMemoryStore()
	}
	f := &fixture{
		provider: provider,
		store:    store,
		nav:      &recordingNavigator{current: "/", follow: true},
		metrics:  newRecordingMetrics(),
	}
	f.ctrl = NewController(Deps{
		Provider:  provider,
		Profiles:  store,
		Navigator: f.nav,
		Metrics:   f.metrics,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}, Config{DebounceWindow: testDebounce})
	t.Cleanup(f.ctrl.Stop)
	return f
}

// await はpredicateを満たすまで最大1秒待つ。
func await(t *testing.T, c *Controller, predicate func(model.Session) bool) model.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.Await(ctx, predicate)
	if err != nil {
		t.Fatalf("Await() error = %v, last state = %+v", err, s)
	}
	return s
}

func authenticatedAs(id string) func(model.Session) bool {
	return func(s model.Session) bool {
		return s.Authenticated() && s.Identity.ID == id
	}
}

func unauthenticated(s model.Session) bool {
	return s.Status == model.StatusUnauthenticated
}

func principal(id, email string) model.Principal {
	return model.Principal{ID: id, Email: email, Provider: "email", EmailConfirmed: true}
}

func providerSession(p model.Principal) *model.ProviderSession {
	return &model.ProviderSession{
		AccessToken:  "access-" + p.ID,
		RefreshToken: "refresh-" + p.ID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         p,
	}
}

func profile(id, email string) *model.Profile {
	return &model.Profile{
		ID:          id,
		Email:       email,
		DisplayName: "Profile " + id,
		AuthMethod:  model.AuthMethodPassword,
	}
}

// observe は通知されたスナップショットを記録する。
type observed struct {
	mu    sync.Mutex
	snaps []model.Session
}

func observe(c *Controller) *observed {
	o := &observed{}
	c.Subscribe(func(s model.Session) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.snaps = append(o.snaps, s)
	})
	return o
}

func (o *observed) all() []model.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Session(nil), o.snaps...)
}
