package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

const (
	defaultPrefix = "preorder:variant:"
	scanBatch     = 500
)

// StatusStore keeps pre-order flags in Redis as "1"/"0" strings with native key expiry.
type StatusStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ repositories.StatusStore = (*StatusStore)(nil)

// Option customises the store.
type Option func(*StatusStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *StatusStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewStatusStore wraps an existing client.
func NewStatusStore(rdb goredis.UniversalClient, opts ...Option) *StatusStore {
	s := &StatusStore{rdb: rdb, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient builds a go-redis client from connection settings.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

func (s *StatusStore) key(variantID string) string {
	return s.prefix + variantID
}

func (s *StatusStore) Get(ctx context.Context, variantID string) (bool, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(variantID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis get %s: %w", variantID, err)
	}
	switch val {
	case "1", "true":
		return true, true, nil
	case "0", "false":
		return false, true, nil
	}
	// Unknown encodings are treated as a miss so the value gets re-resolved and overwritten.
	return false, false, nil
}

func (s *StatusStore) Set(ctx context.Context, variantID string, status bool, ttl time.Duration) error {
	val := "0"
	if status {
		val = "1"
	}
	if err := s.rdb.Set(ctx, s.key(variantID), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", variantID, err)
	}
	return nil
}

func (s *StatusStore) Delete(ctx context.Context, variantIDs ...string) error {
	if len(variantIDs) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, id := range variantIDs {
		pipe.Del(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Count walks the prefix with SCAN so it never blocks the server the way KEYS would.
func (s *StatusStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func (s *StatusStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *StatusStore) Backend() string { return "redis" }
