package core

import (
	"context"
)

// SessionMetrics counts per-browser storages kept in Redis.
type SessionMetrics struct {
	redis RedisClientRaw
}

func NewSessionMetrics(redis RedisClientRaw) *SessionMetrics {
	return &SessionMetrics{redis: redis}
}

// ActiveBrowsers returns how many browser storages have not expired yet.
func (s *SessionMetrics) ActiveBrowsers(ctx context.Context) (int64, error) {
	iter := s.redis.Scan(ctx, 0, StoragePrefix+"*", 100).Iterator()
	var n int64
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
