package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is a small TTL cache for market data that is expensive to refetch
// within a cycle (klines, exchange info). It is backed by Redis when a URL
// is configured, so several agent processes on one host can share fetches,
// and falls back to an in-process map otherwise.
type Store struct {
	rdb *redis.Client
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// New connects to Redis when redisURL is non-empty; connection failures
// degrade to the in-memory backend rather than failing startup.
func New(redisURL string, log zerolog.Logger) *Store {
	s := &Store{entries: make(map[string]memEntry), log: log}
	if redisURL == "" {
		return s
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("bad redis url, using in-memory cache")
		return s
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, using in-memory cache")
		return s
	}
	s.rdb = rdb
	log.Info().Msg("market data cache backed by redis")
	return s
}

// Get returns the cached bytes for key, or nil on miss.
func (s *Store) Get(ctx context.Context, key string) []byte {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return data
		}
		if err != redis.Nil {
			s.log.Debug().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil
	}
	return e.data
}

// Set stores bytes under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("redis set failed")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

// Close releases the Redis connection when one is held.
func (s *Store) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
