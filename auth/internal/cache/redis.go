package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const watermarkPrefix = "auth:revoked-before:"

// RedisRevocationStorage keeps, per account, the instant before which every
// issued access token counts as revoked.
type RedisRevocationStorage struct {
	client *redis.Client
}

func NewRedisRevocationStorage(client *redis.Client) *RedisRevocationStorage {
	return &RedisRevocationStorage{client: client}
}

// RevokeBefore raises the account watermark to at. The key lives as long as
// the longest-lived access token it could still reject.
func (r *RedisRevocationStorage) RevokeBefore(ctx context.Context, accountID string, at time.Time, ttl time.Duration) error {
	if accountID == "" {
		return errors.New("account id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	return r.client.Set(ctx, watermarkPrefix+accountID, at.Unix(), ttl).Err()
}

// RevokedBefore returns the watermark, or ok=false when none is set.
func (r *RedisRevocationStorage) RevokedBefore(ctx context.Context, accountID string) (time.Time, bool, error) {
	result, err := r.client.Get(ctx, watermarkPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	sec, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(sec, 0), true, nil
}
