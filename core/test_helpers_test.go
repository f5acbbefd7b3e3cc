package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const testServerURL = "https://ci.example.com"

var testRepo = NewRepoKey("github.com", "acme", "widgets")

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// stubRemote is an in-memory GitHub repository hook list.
type stubRemote struct {
	mu       sync.Mutex
	nextID   int64
	hooks    []RemoteHook
	owners   map[int64]RepoKey
	quota    Quota
	calls    []string
	pulls    map[int]PullRequestInfo
	errs     map[string]error
	errQueue map[string][]error
	// onPull runs before a pull request lookup, outside the lock.
	onPull func(number int)
	// createdCallback replaces the callback url GitHub reports for new hooks.
	createdCallback string
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		nextID:   100,
		owners:   map[int64]RepoKey{},
		pulls:    map[int]PullRequestInfo{},
		errs:     map[string]error{},
		errQueue: map[string][]error{},
	}
}

func (r *stubRemote) fail(method string) error {
	if queued := r.errQueue[method]; len(queued) > 0 {
		r.errQueue[method] = queued[1:]
		return queued[0]
	}
	return r.errs[method]
}

func (r *stubRemote) record(method string) {
	r.calls = append(r.calls, method)
}

func (r *stubRemote) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, call := range r.calls {
		if call == method {
			count++
		}
	}
	return count
}

func (r *stubRemote) addHook(repo RepoKey, callbackURL string, active bool) RemoteHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	hook := RemoteHook{
		ID:          r.nextID,
		URL:         FormatHookURL(repo.Server, repo.Owner, repo.Name, r.nextID),
		Name:        hookName,
		Active:      active,
		CallbackURL: callbackURL,
		ContentType: hookContentType,
		Events:      append([]string(nil), hookEvents...),
	}
	r.hooks = append(r.hooks, hook)
	r.owners[hook.ID] = repo
	return hook
}

func (r *stubRemote) setLastResponse(id int64, status DeliveryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.hooks {
		if r.hooks[i].ID == id {
			r.hooks[i].LastResponse = status
		}
	}
}

func (r *stubRemote) snapshot() []RemoteHook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteHook(nil), r.hooks...)
}

type stubClient struct {
	remote *stubRemote
	token  Token
}

func (c *stubClient) ListHooks(_ context.Context, repo RepoKey) ([]RemoteHook, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("list")
	if err := c.remote.fail("list"); err != nil {
		return nil, err
	}
	out := []RemoteHook{}
	for _, hook := range c.remote.hooks {
		if c.remote.owners[hook.ID].Equal(repo) {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (c *stubClient) CreateHook(_ context.Context, repo RepoKey, spec HookSpec) (RemoteHook, error) {
	c.remote.mu.Lock()
	c.remote.record("create")
	if err := c.remote.fail("create"); err != nil {
		c.remote.mu.Unlock()
		return RemoteHook{}, err
	}
	callbackURL := spec.CallbackURL
	if c.remote.createdCallback != "" {
		callbackURL = c.remote.createdCallback
	}
	c.remote.mu.Unlock()
	return c.remote.addHook(repo, callbackURL, spec.Active), nil
}

func (c *stubClient) SetHookActive(_ context.Context, _ RepoKey, id int64, active bool) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("edit")
	if err := c.remote.fail("edit"); err != nil {
		return err
	}
	for i := range c.remote.hooks {
		if c.remote.hooks[i].ID == id {
			c.remote.hooks[i].Active = active
			return nil
		}
	}
	return NewRemoteError(RemoteNoAccess, 404, "Not Found", nil)
}

func (c *stubClient) DeleteHook(_ context.Context, _ RepoKey, id int64) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("delete")
	if err := c.remote.fail("delete"); err != nil {
		return err
	}
	kept := c.remote.hooks[:0]
	for _, hook := range c.remote.hooks {
		if hook.ID != id {
			kept = append(kept, hook)
		}
	}
	c.remote.hooks = kept
	return nil
}

func (c *stubClient) TestHook(_ context.Context, _ RepoKey, _ int64) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("test")
	return c.remote.fail("test")
}

func (c *stubClient) PingHook(_ context.Context, _ RepoKey, _ int64) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("ping")
	return c.remote.fail("ping")
}

func (c *stubClient) GetPullRequest(_ context.Context, _ RepoKey, number int) (PullRequestInfo, error) {
	if c.remote.onPull != nil {
		c.remote.onPull(number)
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.record("pull")
	if err := c.remote.fail("pull"); err != nil {
		return PullRequestInfo{}, err
	}
	info, ok := c.remote.pulls[number]
	if !ok {
		return PullRequestInfo{}, NewRemoteError(RemoteNoAccess, 404, "Not Found", nil)
	}
	return info, nil
}

func (c *stubClient) Quota() Quota {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	return c.remote.quota
}

// stubFactory hands out clients bound to one remote and fails for tokens
// listed in tokenErrs.
type stubFactory struct {
	mu        sync.Mutex
	remote    *stubRemote
	tokenErrs map[string]error
	used      []string
}

func (f *stubFactory) ClientFor(_ context.Context, _ Connection, token Token) (RemoteHookClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = append(f.used, token.AccessToken)
	if err := f.tokenErrs[token.AccessToken]; err != nil {
		return &failingClient{err: err}, nil
	}
	return &stubClient{remote: f.remote, token: token}, nil
}

func (f *stubFactory) usedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.used...)
}

// failingClient fails every call with the same error.
type failingClient struct {
	err error
}

func (c *failingClient) ListHooks(context.Context, RepoKey) ([]RemoteHook, error) { return nil, c.err }
func (c *failingClient) CreateHook(context.Context, RepoKey, HookSpec) (RemoteHook, error) {
	return RemoteHook{}, c.err
}
func (c *failingClient) SetHookActive(context.Context, RepoKey, int64, bool) error { return c.err }
func (c *failingClient) DeleteHook(context.Context, RepoKey, int64) error          { return c.err }
func (c *failingClient) TestHook(context.Context, RepoKey, int64) error            { return c.err }
func (c *failingClient) PingHook(context.Context, RepoKey, int64) error            { return c.err }
func (c *failingClient) GetPullRequest(context.Context, RepoKey, int) (PullRequestInfo, error) {
	return PullRequestInfo{}, c.err
}
func (c *failingClient) Quota() Quota { return Quota{} }

type memoryTokenStore struct {
	mu      sync.Mutex
	tokens  []Token
	removed []string
}

func (s *memoryTokenStore) ListTokens(_ context.Context, connectionID string, userID string) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Token{}
	for _, token := range s.tokens {
		if token.ConnectionID == connectionID && token.UserID == userID {
			out = append(out, token)
		}
	}
	return out, nil
}

func (s *memoryTokenStore) RemoveToken(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[:0]
	for _, candidate := range s.tokens {
		if candidate.AccessToken != token.AccessToken {
			kept = append(kept, candidate)
		}
	}
	s.tokens = kept
	s.removed = append(s.removed, token.AccessToken)
	return nil
}

type staticConnections struct {
	connections map[string]Connection
}

func (d staticConnections) FindConnection(_ context.Context, ref ConnectionRef) (Connection, bool, error) {
	connection, ok := d.connections[ref.ID]
	return connection, ok, nil
}

type staticUsers struct {
	users map[string]User
}

func (d staticUsers) FindUser(_ context.Context, userID string) (User, bool, error) {
	user, ok := d.users[userID]
	return user, ok, nil
}

type recordingVcsChecks struct {
	mu       sync.Mutex
	requests []VcsCheckRequest
	relevant bool
}

func (r *recordingVcsChecks) ScheduleVcsCheck(_ context.Context, req VcsCheckRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.relevant, nil
}

func (r *recordingVcsChecks) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type memorySnapshots struct {
	mu       sync.Mutex
	hooks    []HookEntry
	authData []AuthData
	hookErr  error
	authErr  error
	saves    int
}

func (m *memorySnapshots) LoadHooks(context.Context) ([]HookEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hookErr != nil {
		return nil, m.hookErr
	}
	return append([]HookEntry(nil), m.hooks...), nil
}

func (m *memorySnapshots) SaveHooks(_ context.Context, entries []HookEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append([]HookEntry(nil), entries...)
	m.saves++
	return nil
}

func (m *memorySnapshots) LoadAuthData(context.Context) ([]AuthData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return nil, m.authErr
	}
	return append([]AuthData(nil), m.authData...), nil
}

func (m *memorySnapshots) SaveAuthData(_ context.Context, records []AuthData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authData = append([]AuthData(nil), records...)
	m.saves++
	return nil
}

// testFixture wires a service to an in-memory remote with one user, one
// connection and the given tokens.
type testFixture struct {
	svc        *Service
	remote     *stubRemote
	factory    *stubFactory
	tokens     *memoryTokenStore
	vcs        *recordingVcsChecks
	snapshots  *memorySnapshots
	connection Connection
	user       User
	now        time.Time
}

func newTestFixture(cfg Config, tokens []Token, opts ...Option) (*testFixture, error) {
	fx := &testFixture{
		remote:     newStubRemote(),
		tokens:     &memoryTokenStore{tokens: tokens},
		vcs:        &recordingVcsChecks{relevant: true},
		snapshots:  &memorySnapshots{},
		connection: Connection{ID: "conn_1", ProjectExternalID: "Root", Server: "github.com"},
		user:       User{ID: "usr_1", Username: "alice"},
		now:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	fx.factory = &stubFactory{remote: fx.remote, tokenErrs: map[string]error{}}
	if cfg.ServerURL == "" {
		cfg.ServerURL = testServerURL
	}
	base := []Option{
		WithLogger(stubLogger{}),
		WithRemoteClientFactory(fx.factory),
		WithTokenStore(fx.tokens),
		WithConnectionDirectory(staticConnections{connections: map[string]Connection{fx.connection.ID: fx.connection}}),
		WithUserDirectory(staticUsers{users: map[string]User{fx.user.ID: fx.user}}),
		WithVcsCheckScheduler(fx.vcs),
		WithHookSnapshotStore(fx.snapshots),
		WithAuthDataSnapshotStore(fx.snapshots),
		WithClock(func() time.Time { return fx.now }),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	fx.svc = svc
	return fx, nil
}

func (fx *testFixture) request(token Token) HookActionRequest {
	return HookActionRequest{
		Repository: testRepo,
		UserID:     fx.user.ID,
		Connection: fx.connection,
		Token:      token,
	}
}

func testToken(access string, scope string) Token {
	return Token{
		ID:           "tok_" + access,
		AccessToken:  access,
		Scope:        scope,
		Login:        "alice",
		UserID:       "usr_1",
		ConnectionID: "conn_1",
	}
}

func testCallback(pubKey string) string {
	return testServerURL + DefaultCallbackPath + pubKey
}

// installHook puts a hook with stored auth data on both sides.
func (fx *testFixture) installHook(active bool) (RemoteHook, AuthData) {
	return fx.installHookFor(testRepo, active)
}

func (fx *testFixture) installHookFor(repo RepoKey, active bool) (RemoteHook, AuthData) {
	data := fx.svc.AuthData().Create(fx.user.ID, repo, ConnectionRef{ID: fx.connection.ID, ProjectExternalID: "Root"}, true)
	hook := fx.remote.addHook(repo, testCallback(data.PublicKey), active)
	fx.svc.Registry().GetOrAdd(repo, hook)
	return hook, data
}

func remoteErr(kind RemoteErrorKind, status int, message string) error {
	return NewRemoteError(kind, status, message, fmt.Errorf("%s", strings.ToLower(message)))
}
