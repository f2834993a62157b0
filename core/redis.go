package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const (
	// StoragePrefix namespaces the per-browser hashes.
	StoragePrefix = "admin:storage:"
	browserIDKey  = "browser_id"
)

// StorageKey returns the Redis key holding the storage of browserID.
func StorageKey(browserID string) string {
	return StoragePrefix + browserID
}

// RedisClientRaw exposes the subset of go-redis used by storage, cache and metrics.
type RedisClientRaw interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	TxPipeline() redis.Pipeliner
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// RedisStorage keeps a browser's values in one Redis hash. The hash is read
// once on open; writes are buffered until Flush.
type RedisStorage struct {
	client    RedisClientRaw
	key       string
	ttl       time.Duration
	mu        sync.Mutex
	values    map[string]string
	dirtySet  map[string]struct{}
	dirtyDrop map[string]struct{}
	retired   []string
}

// OpenRedisStorage loads the hash for browserID.
func OpenRedisStorage(ctx context.Context, client RedisClientRaw, browserID string, ttl time.Duration) (*RedisStorage, error) {
	key := StorageKey(browserID)
	vals, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load storage %s: %w", key, err)
	}
	if vals == nil {
		vals = map[string]string{}
	}
	return &RedisStorage{
		client:    client,
		key:       key,
		ttl:       ttl,
		values:    vals,
		dirtySet:  map[string]struct{}{},
		dirtyDrop: map[string]struct{}{},
	}, nil
}

func (s *RedisStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *RedisStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.dirtySet[key] = struct{}{}
	delete(s.dirtyDrop, key)
}

func (s *RedisStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.dirtySet, key)
	s.dirtyDrop[key] = struct{}{}
}

// Rotate moves the values under a fresh browser id and records it in
// session. The previous hash is deleted by the next Flush.
func (s *RedisStorage) Rotate(session *sessions.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	session.Values[browserIDKey] = id
	s.retired = append(s.retired, s.key)
	s.key = StorageKey(id)
	s.dirtyDrop = map[string]struct{}{}
	s.dirtySet = make(map[string]struct{}, len(s.values))
	for k := range s.values {
		s.dirtySet[k] = struct{}{}
	}
}

// Flush writes buffered changes in one MULTI/EXEC and refreshes the TTL.
func (s *RedisStorage) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirtySet) == 0 && len(s.dirtyDrop) == 0 && len(s.retired) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	if len(s.retired) > 0 {
		pipe.Del(ctx, s.retired...)
	}
	if len(s.dirtyDrop) > 0 {
		fields := make([]string, 0, len(s.dirtyDrop))
		for k := range s.dirtyDrop {
			fields = append(fields, k)
		}
		pipe.HDel(ctx, s.key, fields...)
	}
	if len(s.dirtySet) > 0 {
		args := make([]interface{}, 0, 2*len(s.dirtySet))
		for k := range s.dirtySet {
			args = append(args, k, s.values[k])
		}
		pipe.HSet(ctx, s.key, args...)
	}
	if len(s.values) > 0 && s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush storage %s: %w", s.key, err)
	}
	s.dirtySet = map[string]struct{}{}
	s.dirtyDrop = map[string]struct{}{}
	s.retired = nil
	return nil
}

// RedisStorageFactory keys storage by a random browser id kept in the session cookie.
type RedisStorageFactory struct {
	Client RedisClientRaw
	TTL    time.Duration
}

func (f RedisStorageFactory) Open(ctx context.Context, session *sessions.Session) (KeyValueStore, error) {
	id, _ := session.Values[browserIDKey].(string)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		session.Values[browserIDKey] = id
	}
	return OpenRedisStorage(ctx, f.Client, id, f.TTL)
}
