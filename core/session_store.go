package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/sessions"
)

// Storage keys shared by every KeyValueStore backend.
const (
	TokenKey      = "token"
	RememberMeKey = "rememberMe"
	UserDataKey   = "userData"
)

// KeyValueStore is per-browser persistent storage, the server-side stand-in
// for the browser's localStorage. Mutations are buffered; backends that
// need a round trip implement Flusher.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// Flusher is implemented by stores that persist buffered writes remotely.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Rotator is implemented by storages addressed through an id in the session
// cookie. Rotate re-keys the storage so an id seen before sign-in is useless
// after it.
type Rotator interface {
	Rotate(session *sessions.Session)
}

// MemoryStorage is an in-process KeyValueStore.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStorage) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

const cookieStoragePrefix = "ls:"

// CookieStorage keeps values inside the gorilla session, i.e. in the
// encrypted session cookie. The session is written by saveSession.
type CookieStorage struct {
	session *sessions.Session
}

func NewCookieStorage(session *sessions.Session) *CookieStorage {
	return &CookieStorage{session: session}
}

func (s *CookieStorage) Get(key string) (string, bool) {
	v, ok := s.session.Values[cookieStoragePrefix+key].(string)
	return v, ok
}

func (s *CookieStorage) Set(key, value string) {
	s.session.Values[cookieStoragePrefix+key] = value
}

func (s *CookieStorage) Delete(key string) {
	delete(s.session.Values, cookieStoragePrefix+key)
}

// SessionStore owns the persisted credentials of one browser: the bearer
// token, the remember-me flag and the cached user snapshot.
type SessionStore struct {
	kv KeyValueStore
}

func NewSessionStore(kv KeyValueStore) *SessionStore {
	return &SessionStore{kv: kv}
}

// ReadToken returns the stored bearer token, if any.
func (s *SessionStore) ReadToken() (string, bool) {
	v, ok := s.kv.Get(TokenKey)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ReadRememberPreference is true only for the literal value "true".
func (s *SessionStore) ReadRememberPreference() bool {
	v, _ := s.kv.Get(RememberMeKey)
	return v == "true"
}

// ReadCachedUser returns the remembered user snapshot. Anything that does not
// decode to a user record counts as absent.
func (s *SessionStore) ReadCachedUser() (*User, bool) {
	raw, ok := s.kv.Get(UserDataKey)
	if !ok || raw == "" {
		return nil, false
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}
	if u.ID == "" || u.Username == "" {
		return nil, false
	}
	return &u, true
}

// WriteSession persists the token, and the remember flag plus user snapshot
// only when rememberMe is set. A non-remembered login drops stale snapshots.
func (s *SessionStore) WriteSession(token string, rememberMe bool, user *User) {
	s.kv.Set(TokenKey, token)
	if !rememberMe {
		s.kv.Delete(RememberMeKey)
		s.kv.Delete(UserDataKey)
		return
	}
	s.kv.Set(RememberMeKey, "true")
	if user != nil {
		s.WriteCachedUser(*user)
	}
}

// WriteCachedUser replaces the user snapshot.
func (s *SessionStore) WriteCachedUser(user User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	s.kv.Set(UserDataKey, string(data))
}

// Clear always removes the token; the remember flag and snapshot survive only
// when preserveRememberedUser is set.
func (s *SessionStore) Clear(preserveRememberedUser bool) {
	s.kv.Delete(TokenKey)
	if preserveRememberedUser {
		return
	}
	s.kv.Delete(RememberMeKey)
	s.kv.Delete(UserDataKey)
}

// StorageFactory opens the KeyValueStore that belongs to a browser session.
type StorageFactory interface {
	Open(ctx context.Context, session *sessions.Session) (KeyValueStore, error)
}

// CookieStorageFactory stores everything in the session cookie itself.
type CookieStorageFactory struct{}

func (CookieStorageFactory) Open(_ context.Context, session *sessions.Session) (KeyValueStore, error) {
	return NewCookieStorage(session), nil
}
