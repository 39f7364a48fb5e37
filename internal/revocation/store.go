package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds a single store round trip when none is configured.
const DefaultTimeout = 2 * time.Second

// ErrUnavailable wraps transport failures so callers can fail fast on store outages.
var ErrUnavailable = errors.New("revocation store unavailable")

// Store records which token identifiers are currently honorable.
type Store interface {
	// Register stores the entry, overwriting any entry with the same id.
	Register(ctx context.Context, tokenID, serialized string, ttl time.Duration) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	// Remove reports whether this call deleted a live entry.
	Remove(ctx context.Context, tokenID string) (bool, error)
	// Rotate replaces oldID with newID in one step. It reports false, and writes nothing,
	// when oldID was no longer present.
	Rotate(ctx context.Context, oldID, newID, serialized string, ttl time.Duration) (bool, error)
}

// KEYS[1] old entry, KEYS[2] replacement; ARGV[1] value, ARGV[2] ttl in ms.
var rotateLua = redis.NewScript(`
if redis.call("DEL", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
return 1
`)

// RedisStore keeps entries as prefixed redis keys with a TTL.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore builds a store. A non-positive timeout falls back to DefaultTimeout.
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + tokenID
}

func (s *RedisStore) Register(ctx context.Context, tokenID, serialized string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("token id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s", ttl)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(tokenID), serialized, ttl).Err(); err != nil {
		return fmt.Errorf("%w: register: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Del(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: remove: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Rotate(ctx context.Context, oldID, newID, serialized string, ttl time.Duration) (bool, error) {
	if oldID == "" || newID == "" {
		return false, errors.New("token ids are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("invalid ttl %s", ttl)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := rotateLua.Run(ctx, s.client, []string{s.key(oldID), s.key(newID)}, serialized, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: rotate: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}
