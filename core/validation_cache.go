package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ValidationCache remembers recent successful "current user" answers per
// token so page loads inside the revalidation interval skip the round trip.
type ValidationCache interface {
	Lookup(ctx context.Context, token string) (User, bool)
	Store(ctx context.Context, token string, user User)
	Forget(ctx context.Context, token string)
}

// NoValidationCache always misses; every page load revalidates.
type NoValidationCache struct{}

func (NoValidationCache) Lookup(context.Context, string) (User, bool) { return User{}, false }
func (NoValidationCache) Store(context.Context, string, User)         {}
func (NoValidationCache) Forget(context.Context, string)              {}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LRUValidationCache is an in-process cache with per-entry TTL.
type LRUValidationCache struct {
	lru *expirable.LRU[string, User]
}

func NewLRUValidationCache(size int, ttl time.Duration) *LRUValidationCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUValidationCache{lru: expirable.NewLRU[string, User](size, nil, ttl)}
}

func (c *LRUValidationCache) Lookup(_ context.Context, token string) (User, bool) {
	return c.lru.Get(tokenDigest(token))
}

func (c *LRUValidationCache) Store(_ context.Context, token string, user User) {
	c.lru.Add(tokenDigest(token), user)
}

func (c *LRUValidationCache) Forget(_ context.Context, token string) {
	c.lru.Remove(tokenDigest(token))
}

const validationKeyPrefix = "admin:validated:"

// RedisValidationCache shares validation results between gateway replicas.
type RedisValidationCache struct {
	client RedisClientRaw
	ttl    time.Duration
}

func NewRedisValidationCache(client RedisClientRaw, ttl time.Duration) *RedisValidationCache {
	return &RedisValidationCache{client: client, ttl: ttl}
}

func (c *RedisValidationCache) Lookup(ctx context.Context, token string) (User, bool) {
	raw, err := c.client.Get(ctx, validationKeyPrefix+tokenDigest(token)).Result()
	if err != nil {
		return User{}, false
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, false
	}
	return u, true
}

func (c *RedisValidationCache) Store(ctx context.Context, token string, user User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, validationKeyPrefix+tokenDigest(token), data, c.ttl).Err(); err != nil {
		log.Printf("validation cache store failed: %v", err)
	}
}

func (c *RedisValidationCache) Forget(ctx context.Context, token string) {
	if err := c.client.Del(ctx, validationKeyPrefix+tokenDigest(token)).Err(); err != nil {
		log.Printf("validation cache forget failed: %v", err)
	}
}
