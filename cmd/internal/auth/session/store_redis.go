package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors sessions into Redis.
//
// Keys:
//
//	<prefix>session:<digest> -> JSON Record, TTL = time left
//	<prefix>owner:<owner>    -> <digest>,    same TTL
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps a client. The store closes the client on Close.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) sessionKey(digest string) string { return s.prefix + "session:" + digest }
func (s *RedisStore) ownerKey(owner string) string    { return s.prefix + "owner:" + owner }

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(rec.Key), blob, ttl)
		p.Set(ctx, s.ownerKey(rec.Owner), rec.Key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis put: %w", err)
	}
	return nil
}

// ownerRelease drops the owner index only if it still points at this session.
var ownerRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) Delete(ctx context.Context, rec Record) error {
	if err := s.rdb.Del(ctx, s.sessionKey(rec.Key)).Err(); err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	if err := ownerRelease.Run(ctx, s.rdb, []string{s.ownerKey(rec.Owner)}, rec.Key).Err(); err != nil {
		return fmt.Errorf("session: redis owner release: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	blob, err := s.rdb.Get(ctx, s.sessionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrSessionNotFound
		}
		return Record{}, fmt.Errorf("session: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return Record{}, fmt.Errorf("session: decode record: %w", err)
	}
	return rec, nil
}

// OwnerKey returns the digest currently indexed for owner.
func (s *RedisStore) OwnerKey(ctx context.Context, owner string) (string, error) {
	v, err := s.rdb.Get(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("session: redis owner get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
