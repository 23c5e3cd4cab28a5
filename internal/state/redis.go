package state

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements UserStateStore on Redis
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ UserStateStore = (*RedisStore)(nil)

func (s *RedisStore) TryAcquireFloodSlot(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, FloodKey(userID), 1, ttl).Result()
}

func (s *RedisStore) RefreshFloodSlot(ctx context.Context, userID int64, ttl time.Duration) error {
	return s.rdb.Set(ctx, FloodKey(userID), 1, ttl).Err()
}

func (s *RedisStore) FloodTTL(ctx context.Context, userID int64) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, FloodKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	// -1 and -2 mean no expiry and no key
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, userID int64, window time.Duration) (int64, error) {
	key := UsageKey(userID)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) Usage(ctx context.Context, userID int64) (int64, error) {
	n, err := s.rdb.Get(ctx, UsageKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) ResetUsage(ctx context.Context, userID int64) (bool, error) {
	n, err := s.rdb.Del(ctx, UsageKey(userID)).Result()
	return n > 0, err
}

func (s *RedisStore) IsPremium(ctx context.Context, userID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, KeyPremiumUsers, FloodKey(userID)).Result()
}

func (s *RedisStore) AddPremium(ctx context.Context, userID int64) (bool, error) {
	n, err := s.rdb.SAdd(ctx, KeyPremiumUsers, FloodKey(userID)).Result()
	return n > 0, err
}

func (s *RedisStore) RemovePremium(ctx context.Context, userID int64) (bool, error) {
	n, err := s.rdb.SRem(ctx, KeyPremiumUsers, FloodKey(userID)).Result()
	return n > 0, err
}

func (s *RedisStore) PremiumUsers(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, KeyPremiumUsers).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

func (s *RedisStore) ClearPremium(ctx context.Context) (int64, error) {
	pipe := s.rdb.TxPipeline()
	count := pipe.SCard(ctx, KeyPremiumUsers)
	pipe.Del(ctx, KeyPremiumUsers)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

func (s *RedisStore) AddGiftCodes(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	members := make([]interface{}, len(codes))
	for i, c := range codes {
		members[i] = c
	}
	return s.rdb.SAdd(ctx, KeyGiftCodes, members...).Err()
}

func (s *RedisStore) Redeem(ctx context.Context, code string, userID int64) (bool, error) {
	// SREM succeeds for exactly one caller per code
	removed, err := s.rdb.SRem(ctx, KeyGiftCodes, code).Result()
	if err != nil || removed == 0 {
		return false, err
	}
	if err := s.rdb.SAdd(ctx, KeyPremiumUsers, FloodKey(userID)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) CacheMessage(ctx context.Context, key string, messageID int) error {
	return s.rdb.Set(ctx, MessageKey(key), strconv.Itoa(messageID), 0).Err()
}

func (s *RedisStore) CachedMessage(ctx context.Context, key string) (int, bool, error) {
	id, err := s.rdb.Get(ctx, MessageKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
