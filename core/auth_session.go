package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SessionState is the lifecycle position of an AuthSession.
type SessionState int

const (
	StateBootstrapping SessionState = iota
	StateValidating
	StateOptimisticallyAuthenticated
	StateAuthenticated
	StateAnonymous
)

func (s SessionState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateValidating:
		return "validating"
	case StateOptimisticallyAuthenticated:
		return "optimistic"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a read-only copy of the session handed to consumers.
type Snapshot struct {
	State           SessionState `json:"state"`
	User            *User        `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	Loading         bool         `json:"loading"`
	RememberMe      bool         `json:"rememberMe"`
}

// Role returns the user's role string, empty for anonymous sessions.
func (s Snapshot) Role() string {
	if s.User == nil {
		return ""
	}
	return s.User.RoleName()
}

// LoginResult describes the outcome of AuthSession.Login.
type LoginResult struct {
	User   *User
	Denied bool
}

// AuthSessionOptions wires the optional collaborators of an AuthSession.
type AuthSessionOptions struct {
	Notifier Notifier
	Cache    ValidationCache
	Audit    AuditRecorder
	Now      func() time.Time
}

// AuthSession is the single source of truth for who is signed in. It reads
// and writes SessionStore and consults the backend; nothing else mutates
// the session or the user.
type AuthSession struct {
	mu         sync.RWMutex
	store      *SessionStore
	backend    Backend
	notifier   Notifier
	cache      ValidationCache
	audit      AuditRecorder
	now        func() time.Time
	state      SessionState
	user       *User
	token      string
	rememberMe bool
}

func NewAuthSession(store *SessionStore, backend Backend, opts AuthSessionOptions) *AuthSession {
	s := &AuthSession{
		store:    store,
		backend:  backend,
		notifier: opts.Notifier,
		cache:    opts.Cache,
		audit:    opts.Audit,
		now:      opts.Now,
		state:    StateBootstrapping,
	}
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.cache == nil {
		s.cache = NoValidationCache{}
	}
	if s.audit == nil {
		s.audit = LogAuditRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *AuthSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:      s.state,
		RememberMe: s.rememberMe,
	}
	switch s.state {
	case StateBootstrapping, StateValidating:
		snap.Loading = true
	case StateOptimisticallyAuthenticated:
		snap.Loading = true
		snap.IsAuthenticated = true
	case StateAuthenticated:
		snap.IsAuthenticated = true
	}
	if s.user != nil {
		snap.User = s.user.clone()
	}
	return snap
}

// Bootstrap reads SessionStore and moves to Anonymous, Validating or
// OptimisticallyAuthenticated. It never talks to the backend.
func (s *AuthSession) Bootstrap() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateBootstrapping
	s.user = nil
	s.token = ""
	s.rememberMe = s.store.ReadRememberPreference()

	token, ok := s.store.ReadToken()
	if !ok {
		if !s.rememberMe {
			s.store.Clear(false)
		}
		s.state = StateAnonymous
		return s.state
	}
	s.token = token

	if s.rememberMe {
		if cached, ok := s.store.ReadCachedUser(); ok {
			s.user = cached
			s.state = StateOptimisticallyAuthenticated
			return s.state
		}
	}
	s.state = StateValidating
	return s.state
}

// Validate resolves an outstanding validation by fetching the current user.
// It is a no-op in any state other than Validating/Optimistic.
func (s *AuthSession) Validate(ctx context.Context) SessionState {
	s.mu.RLock()
	state, token := s.state, s.token
	s.mu.RUnlock()
	if state != StateValidating && state != StateOptimisticallyAuthenticated {
		return state
	}

	user, err := s.currentUser(ctx, token, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token || (s.state != StateValidating && s.state != StateOptimisticallyAuthenticated) {
		// Superseded by a logout or login while the request was outstanding.
		return s.state
	}
	if err != nil {
		s.recordLocked(ctx, AuditValidationFailed, s.user, err.Error())
		s.logoutLocked(ctx)
		return s.state
	}
	if role, rerr := user.Role(); rerr != nil || !role.Privileged() {
		s.recordLocked(ctx, AuditValidationDenied, &user, "role not permitted")
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgAccessDenied})
		s.teardownLocked(ctx)
		return s.state
	}

	s.user = user.clone()
	if s.rememberMe {
		s.store.WriteCachedUser(user)
	}
	s.state = StateAuthenticated
	return s.state
}

// Start runs Bootstrap followed by Validate, the full page-load sequence.
func (s *AuthSession) Start(ctx context.Context) Snapshot {
	s.Bootstrap()
	s.Validate(ctx)
	return s.Snapshot()
}

// Login exchanges credentials for a token. Only admin and manager roles may
// keep the resulting session; everyone else is signed out again and gets
// ErrRoleDenied. Credential failures leave the session untouched.
func (s *AuthSession) Login(ctx context.Context, username, password string, remember bool) (LoginResult, error) {
	payload, err := s.backend.Authenticate(ctx, username, password)
	if err != nil {
		msg := backendMessage(err, msgLoginFailed)
		s.notifier.Notify(Notice{Level: NoticeError, Message: msg})
		s.audit.Record(ctx, AuditEvent{Kind: AuditLoginFailed, Username: username, Detail: msg, OccurredAt: s.now()})
		var gqlErr *GraphQLError
		if errors.As(err, &gqlErr) {
			return LoginResult{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	if payload.Token == "" {
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgLoginFailed})
		s.audit.Record(ctx, AuditEvent{Kind: AuditLoginFailed, Username: username, Detail: "empty token", OccurredAt: s.now()})
		return LoginResult{}, fmt.Errorf("%w: empty token", ErrInvalidCredentials)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user := payload.User
	if role, rerr := user.Role(); rerr != nil || !role.Privileged() {
		s.token = payload.Token
		s.recordLocked(ctx, AuditLoginDenied, &user, "role not permitted")
		s.notifier.Notify(Notice{Level: NoticeError, Message: msgAccessDenied})
		s.teardownLocked(ctx)
		return LoginResult{Denied: true}, ErrRoleDenied
	}

	s.rememberMe = remember
	s.token = payload.Token
	s.user = user.clone()
	s.store.WriteSession(payload.Token, remember, &user)
	s.cache.Store(ctx, payload.Token, user)
	s.state = StateAuthenticated
	s.recordLocked(ctx, AuditLogin, &user, "")
	s.notifier.Notify(Notice{Level: NoticeSuccess, Message: msgLoginSuccess})
	return LoginResult{User: user.clone()}, nil
}

// Logout drops the token and, unless the user asked to be remembered, the
// cached identity. It is local, immediate and idempotent.
func (s *AuthSession) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if s.token != "" {
		s.recordLocked(ctx, AuditLogout, s.user, "")
	}
	s.logoutLocked(ctx)
}

// RefetchUser re-runs the current-user fetch, bypassing the validation cache,
// and replaces the user. It does not change isAuthenticated.
func (s *AuthSession) RefetchUser(ctx context.Context) (*User, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return nil, ErrNoToken
	}

	user, err := s.currentUser(ctx, token, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token {
		return nil, ErrNoToken
	}
	s.user = user.clone()
	if s.rememberMe {
		s.store.WriteCachedUser(user)
	}
	return user.clone(), nil
}

// UpdateProfile forwards a partial update. Failures come back inside the
// result; the local user is left as is until RefetchUser.
func (s *AuthSession) UpdateProfile(ctx context.Context, in ProfileUpdate) ProfileResult {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return ProfileResult{Success: false, Errors: []string{ErrNoToken.Error()}}
	}
	res, err := s.backend.UpdateUserProfile(ctx, token, in)
	if err != nil {
		return ProfileResult{Success: false, Errors: []string{backendMessage(err, "profile update failed")}}
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return res
}

// Token returns the bearer token of an authenticated session.
func (s *AuthSession) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateAuthenticated && s.state != StateOptimisticallyAuthenticated {
		return "", false
	}
	return s.token, s.token != ""
}

func (s *AuthSession) currentUser(ctx context.Context, token string, useCache bool) (User, error) {
	if useCache && !tokenExpired(token, s.now()) {
		if u, ok := s.cache.Lookup(ctx, token); ok {
			return u, nil
		}
	}
	u, err := s.backend.FetchCurrentUser(ctx, token)
	if err != nil {
		s.cache.Forget(ctx, token)
		return User{}, err
	}
	s.cache.Store(ctx, token, u)
	return u, nil
}

// logoutLocked honours the remember preference.
func (s *AuthSession) logoutLocked(ctx context.Context) {
	s.resetLocked(ctx, s.rememberMe)
}

// teardownLocked discards everything, used when the role is not permitted.
func (s *AuthSession) teardownLocked(ctx context.Context) {
	s.resetLocked(ctx, false)
}

func (s *AuthSession) resetLocked(ctx context.Context, preserve bool) {
	if s.token != "" {
		s.cache.Forget(ctx, s.token)
	}
	s.store.Clear(preserve)
	s.token = ""
	s.user = nil
	s.state = StateAnonymous
}

func (s *AuthSession) recordLocked(ctx context.Context, kind string, u *User, detail string) {
	ev := AuditEvent{Kind: kind, Detail: detail, OccurredAt: s.now()}
	if u != nil {
		ev.Username = u.Username
		ev.Role = strings.ToLower(u.RoleName())
	}
	s.audit.Record(ctx, ev)
}

// backendMessage extracts the human-readable message of a backend error.
// Only GraphQL errors are shown as-is; transport failures carry addresses
// and get the fallback.
func backendMessage(err error, fallback string) string {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) && gqlErr.Message != "" {
		return gqlErr.Message
	}
	return fallback
}
