package authz

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityStore persists the last-interaction time of one visitor.
type ActivityStore interface {
	Touch(ctx context.Context, at time.Time) error
	Last(ctx context.Context) (time.Time, bool, error)
	Clear(ctx context.Context) error
}

// RedisActivity keeps the activity timestamp in Redis as unix milliseconds.
type RedisActivity struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisActivity binds an ActivityStore to a console session id.
func NewRedisActivity(client *redis.Client, sessionID string, ttl time.Duration) *RedisActivity {
	return &RedisActivity{client: client, key: "campusdesk:activity:" + sessionID, ttl: ttl}
}

// Touch records at as the last activity.
func (a *RedisActivity) Touch(ctx context.Context, at time.Time) error {
	return a.client.Set(ctx, a.key, strconv.FormatInt(at.UnixMilli(), 10), a.ttl).Err()
}

// Last returns the recorded activity; ok is false when nothing is stored.
func (a *RedisActivity) Last(ctx context.Context) (time.Time, bool, error) {
	ms, err := a.client.Get(ctx, a.key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// Clear removes the timestamp.
func (a *RedisActivity) Clear(ctx context.Context) error {
	return a.client.Del(ctx, a.key).Err()
}

var _ ActivityStore = (*RedisActivity)(nil)
