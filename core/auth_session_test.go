package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory AdminBackend keyed by username.
type fakeBackend struct {
	mu        sync.Mutex
	passwords map[string]string
	users     map[string]User
	tokens    map[string]string // token -> username
	meErr     error
	meCalls   int
	updates   []ProfileUpdate
	updateRes ProfileResult
	updateErr error
	forwards  [][]byte
	fwdStatus int
	fwdBody   []byte
	fwdErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		passwords: map[string]string{},
		users:     map[string]User{},
		tokens:    map[string]string{},
		updateRes: ProfileResult{Success: true},
		fwdStatus: 200,
		fwdBody:   []byte(`{"data":{}}`),
	}
}

func (f *fakeBackend) addUser(username, password, role string) User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := User{
		ID:       "id-" + username,
		Username: username,
		Email:    username + "@example.com",
		IsActive: true,
		Profile:  &Profile{ID: "p-" + username, Role: role},
	}
	f.users[username] = u
	f.passwords[username] = password
	return u
}

func (f *fakeBackend) setRole(username, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	u.Profile = &Profile{ID: "p-" + username, Role: role}
	f.users[username] = u
}

func (f *fakeBackend) Authenticate(_ context.Context, username, password string) (AuthPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.passwords[username]; !ok || pw != password {
		return AuthPayload{}, &GraphQLError{Message: "Please enter valid credentials"}
	}
	token := "token-" + username
	f.tokens[token] = username
	return AuthPayload{Token: token, User: f.users[username]}, nil
}

func (f *fakeBackend) FetchCurrentUser(_ context.Context, token string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	if f.meErr != nil {
		return User{}, f.meErr
	}
	name, ok := f.tokens[token]
	if !ok {
		return User{}, &GraphQLError{Message: "Signature has expired"}
	}
	return f.users[name], nil
}

func (f *fakeBackend) UpdateUserProfile(_ context.Context, token string, in ProfileUpdate) (ProfileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return ProfileResult{}, f.updateErr
	}
	if name, ok := f.tokens[token]; ok && in.FirstName != nil {
		u := f.users[name]
		u.FirstName = *in.FirstName
		f.users[name] = u
	}
	return f.updateRes, nil
}

func (f *fakeBackend) RequestPasswordReset(_ context.Context, email string) (PasswordResult, error) {
	return PasswordResult{Success: true, Message: "sent to " + email}, nil
}

func (f *fakeBackend) ResetPassword(_ context.Context, uid, token, username, newPassword string) (PasswordResult, error) {
	if token != "good" {
		return PasswordResult{Success: false, Errors: []string{"invalid link"}}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[username] = newPassword
	return PasswordResult{Success: true, Message: "password changed"}, nil
}

func (f *fakeBackend) Forward(_ context.Context, token string, body []byte) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, body)
	if f.fwdErr != nil {
		return 0, nil, f.fwdErr
	}
	return f.fwdStatus, f.fwdBody, nil
}

func (f *fakeBackend) lastForward() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forwards) == 0 {
		return nil
	}
	return f.forwards[len(f.forwards)-1]
}

func (f *fakeBackend) failForward(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fwdErr = err
}

func (f *fakeBackend) setForwardResponse(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fwdStatus = status
	f.fwdBody = []byte(body)
}

func (f *fakeBackend) forwardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwards)
}

func (f *fakeBackend) currentUserCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meCalls
}

func (f *fakeBackend) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

type auditLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *auditLog) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *auditLog) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

type sessionFixture struct {
	kv      *MemoryStorage
	backend *fakeBackend
	notices *noticeLog
	audit   *auditLog
	cache   ValidationCache
}

func newSessionFixture() *sessionFixture {
	return &sessionFixture{
		kv:      NewMemoryStorage(),
		backend: newFakeBackend(),
		notices: &noticeLog{},
		audit:   &auditLog{},
		cache:   NoValidationCache{},
	}
}

// pageLoad builds a fresh AuthSession over the same storage, like a reload.
func (f *sessionFixture) pageLoad() *AuthSession {
	return NewAuthSession(NewSessionStore(f.kv), f.backend, AuthSessionOptions{
		Notifier: f.notices,
		Cache:    f.cache,
		Audit:    f.audit,
	})
}

func TestBootstrap_NoTokenIsAnonymous(t *testing.T) {
	f := newSessionFixture()
	f.kv.Set(UserDataKey, `{"id":"1","username":"ghost"}`)

	s := f.pageLoad()
	assert.Equal(t, StateAnonymous, s.Bootstrap())
	snap := s.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.Equal(t, 0, f.kv.Len(), "stale snapshot without remember flag is cleared")
	assert.Equal(t, 0, f.backend.meCalls)
}

func TestBootstrap_TokenWithoutCacheValidates(t *testing.T) {
	f := newSessionFixture()
	f.kv.Set(TokenKey, "tok")

	s := f.pageLoad()
	assert.Equal(t, StateValidating, s.Bootstrap())
	snap := s.Snapshot()
	assert.True(t, snap.Loading)
	assert.False(t, snap.IsAuthenticated)
}

func TestLogin_AdminSucceeds(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	res, err := s.Login(context.Background(), "alice", "pw", false)
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, "alice", res.User.Username)

	snap := s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.True(t, snap.IsAuthenticated)
	assert.False(t, snap.RememberMe)

	token, ok := f.kv.Get(TokenKey)
	require.True(t, ok)
	assert.Equal(t, "token-alice", token)
	_, ok = f.kv.Get(UserDataKey)
	assert.False(t, ok)

	assert.Equal(t, []Notice{{Level: NoticeSuccess, Message: msgLoginSuccess}}, f.notices.all())
	assert.Equal(t, []string{AuditLogin}, f.audit.kinds())
}

func TestLogin_NonPrivilegedRolesAreDenied(t *testing.T) {
	for _, role := range []string{"writer", "reader", "", "superuser"} {
		t.Run("role="+role, func(t *testing.T) {
			f := newSessionFixture()
			f.backend.addUser("bob", "pw", role)

			s := f.pageLoad()
			s.Bootstrap()
			res, err := s.Login(context.Background(), "bob", "pw", true)
			require.ErrorIs(t, err, ErrRoleDenied)
			assert.True(t, res.Denied)
			assert.Nil(t, res.User)

			snap := s.Snapshot()
			assert.Equal(t, StateAnonymous, snap.State)
			assert.False(t, snap.IsAuthenticated)
			assert.Equal(t, 0, f.kv.Len(), "nothing of the denied session is kept")

			notices := f.notices.all()
			require.Len(t, notices, 1)
			assert.Equal(t, NoticeError, notices[0].Level)
			assert.Equal(t, msgAccessDenied, notices[0].Message)
			assert.Equal(t, []string{AuditLoginDenied}, f.audit.kinds())
		})
	}
}

func TestLogin_BadCredentialsLeaveStateUnchanged(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")
	f.kv.Set(RememberMeKey, "true")
	f.kv.Set(UserDataKey, `{"id":"id-alice","username":"alice"}`)

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "wrong", false)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "Please enter valid credentials")

	assert.Equal(t, StateAnonymous, s.Snapshot().State)
	assert.Equal(t, 2, f.kv.Len())
	notices := f.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "Please enter valid credentials", notices[0].Message)
}

type unreachableBackend struct{ *fakeBackend }

func (unreachableBackend) Authenticate(context.Context, string, string) (AuthPayload, error) {
	return AuthPayload{}, errors.New("dial tcp: connection refused")
}

func TestLogin_TransportErrorIsNotACredentialError(t *testing.T) {
	f := newSessionFixture()
	s := NewAuthSession(NewSessionStore(f.kv), unreachableBackend{f.backend}, AuthSessionOptions{Notifier: f.notices})
	s.Bootstrap()

	_, err := s.Login(context.Background(), "alice", "pw", false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
	assert.False(t, errors.Is(err, ErrRoleDenied))
	notices := f.notices.all()
	require.Len(t, notices, 1)
	assert.Equal(t, msgLoginFailed, notices[0].Message)
	assert.NotContains(t, notices[0].Message, "dial")
}

func TestRememberedReloadIsOptimisticThenConverges(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "manager")

	first := f.pageLoad()
	first.Bootstrap()
	_, err := first.Login(context.Background(), "alice", "pw", true)
	require.NoError(t, err)

	reload := f.pageLoad()
	assert.Equal(t, StateOptimisticallyAuthenticated, reload.Bootstrap())
	optimistic := reload.Snapshot()
	require.NotNil(t, optimistic.User)
	assert.Equal(t, "alice", optimistic.User.Username)
	assert.True(t, optimistic.IsAuthenticated)
	assert.True(t, optimistic.Loading)
	assert.True(t, optimistic.RememberMe)

	assert.Equal(t, StateAuthenticated, reload.Validate(context.Background()))
	settled := reload.Snapshot()
	require.NotNil(t, settled.User)
	assert.Equal(t, optimistic.User.ID, settled.User.ID)
	assert.Equal(t, optimistic.User.Username, settled.User.Username)
	assert.False(t, settled.Loading)
	assert.Equal(t, 1, f.backend.meCalls)
}

func TestBootstrap_CorruptCachedUserBehavesLikeNoCache(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")
	f.backend.tokens["token-alice"] = "alice"
	f.kv.Set(TokenKey, "token-alice")
	f.kv.Set(RememberMeKey, "true")
	f.kv.Set(UserDataKey, "}{ definitely not json")

	s := f.pageLoad()
	require.NotPanics(t, func() {
		assert.Equal(t, StateValidating, s.Bootstrap())
	})
	assert.Nil(t, s.Snapshot().User)

	assert.Equal(t, StateAuthenticated, s.Validate(context.Background()))
	cached, ok := NewSessionStore(f.kv).ReadCachedUser()
	require.True(t, ok, "validation rewrites the snapshot")
	assert.Equal(t, "alice", cached.Username)
}

func TestValidate_FailureLogsOutSilently(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", true)
	require.NoError(t, err)
	before := len(f.notices.all())

	f.backend.revoke("token-alice")
	reload := f.pageLoad()
	reload.Bootstrap()
	assert.Equal(t, StateAnonymous, reload.Validate(context.Background()))

	assert.Len(t, f.notices.all(), before, "validation failure shows no notice")
	_, ok := f.kv.Get(TokenKey)
	assert.False(t, ok)
	// A remembered identity survives a logout the user did not ask for.
	assert.True(t, NewSessionStore(f.kv).ReadRememberPreference())
	_, ok = NewSessionStore(f.kv).ReadCachedUser()
	assert.True(t, ok)
}

func TestValidate_DemotedRoleIsTornDown(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", true)
	require.NoError(t, err)

	f.backend.setRole("alice", "writer")
	reload := f.pageLoad()
	reload.Bootstrap()
	assert.Equal(t, StateAnonymous, reload.Validate(context.Background()))
	assert.Equal(t, 0, f.kv.Len())

	notices := f.notices.all()
	assert.Equal(t, Notice{Level: NoticeError, Message: msgAccessDenied}, notices[len(notices)-1])
	assert.Contains(t, f.audit.kinds(), AuditValidationDenied)
}

func TestLogout_IdempotentAndHonoursRemember(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", false)
	require.NoError(t, err)

	s.Logout()
	once := s.Snapshot()
	onceLen := f.kv.Len()
	s.Logout()
	assert.Equal(t, once, s.Snapshot())
	assert.Equal(t, onceLen, f.kv.Len())
	assert.Equal(t, StateAnonymous, once.State)
	assert.Equal(t, 0, f.kv.Len())
	_, ok := s.Token()
	assert.False(t, ok)

	// Remembered sessions keep their display identity but lose the token.
	_, err = s.Login(context.Background(), "alice", "pw", true)
	require.NoError(t, err)
	s.Logout()
	s.Logout()
	_, ok = f.kv.Get(TokenKey)
	assert.False(t, ok)
	assert.True(t, NewSessionStore(f.kv).ReadRememberPreference())

	kinds := f.audit.kinds()
	assert.Equal(t, []string{AuditLogin, AuditLogout, AuditLogin, AuditLogout}, kinds)
}

func TestRefetchUser_ReplacesUserKeepsAuthentication(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", true)
	require.NoError(t, err)

	first := "Alicia"
	res := s.UpdateProfile(context.Background(), ProfileUpdate{FirstName: &first})
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "", s.Snapshot().User.FirstName, "update does not touch the local user")

	u, err := s.RefetchUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alicia", u.FirstName)
	snap := s.Snapshot()
	assert.Equal(t, "Alicia", snap.User.FirstName)
	assert.True(t, snap.IsAuthenticated)

	cached, ok := NewSessionStore(f.kv).ReadCachedUser()
	require.True(t, ok)
	assert.Equal(t, "Alicia", cached.FirstName)
}

func TestRefetchUser_Anonymous(t *testing.T) {
	f := newSessionFixture()
	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.RefetchUser(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestUpdateProfile_ErrorsComeBackInResult(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")
	s := f.pageLoad()
	s.Bootstrap()

	res := s.UpdateProfile(context.Background(), ProfileUpdate{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)

	_, err := s.Login(context.Background(), "alice", "pw", false)
	require.NoError(t, err)
	f.backend.updateErr = &GraphQLError{Message: "Enter a valid email address."}
	res = s.UpdateProfile(context.Background(), ProfileUpdate{})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"Enter a valid email address."}, res.Errors)

	f.backend.updateErr = nil
	f.backend.updateRes = ProfileResult{Success: false, Errors: []string{"phone is invalid"}}
	res = s.UpdateProfile(context.Background(), ProfileUpdate{})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"phone is invalid"}, res.Errors)
}

func TestValidate_UsesCacheWithinInterval(t *testing.T) {
	f := newSessionFixture()
	f.cache = NewLRUValidationCache(16, time.Minute)
	f.backend.addUser("alice", "pw", "admin")

	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		snap := f.pageLoad().Start(context.Background())
		assert.Equal(t, StateAuthenticated, snap.State)
	}
	assert.Equal(t, 0, f.backend.meCalls)

	_, err = s.RefetchUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.meCalls)

	s.Logout()
	f.kv.Set(TokenKey, "token-alice")
	f.pageLoad().Start(context.Background())
	assert.Equal(t, 2, f.backend.meCalls, "logout forgets the cached validation")
}

func TestValidate_ExpiredJWTSkipsCache(t *testing.T) {
	f := newSessionFixture()
	f.cache = NewLRUValidationCache(16, time.Hour)
	expired := signedTestToken(t, time.Now().Add(-time.Minute))
	f.cache.Store(context.Background(), expired, testUser("admin"))
	f.kv.Set(TokenKey, expired)

	snap := f.pageLoad().Start(context.Background())
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Equal(t, 1, f.backend.meCalls)
}

func TestValidate_SupersededResultIsDiscarded(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")
	f.backend.tokens["token-alice"] = "alice"
	f.kv.Set(TokenKey, "token-alice")

	s := f.pageLoad()
	s.Bootstrap()
	s.Logout()
	assert.Equal(t, StateAnonymous, s.Validate(context.Background()))
	assert.Equal(t, 0, f.backend.meCalls)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newSessionFixture()
	f.backend.addUser("alice", "pw", "admin")
	s := f.pageLoad()
	s.Bootstrap()
	_, err := s.Login(context.Background(), "alice", "pw", false)
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.User.Username = "mallory"
	snap.User.Profile.Role = "reader"
	again := s.Snapshot()
	assert.Equal(t, "alice", again.User.Username)
	assert.Equal(t, "admin", again.Role())
}
