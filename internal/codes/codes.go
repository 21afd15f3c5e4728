// Package codes stores email verification codes in Redis. TTL handles the
// 5-minute expiry and plain SET makes a reissue overwrite the live code, so
// at most one code is valid per email at any time.
package codes

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript compares and deletes atomically so a wrong guess neither
// consumes the code nor leaves a validated code replayable.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// RedisStore implements the verification code collaborator.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewClient connects to redis with short timeouts.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

func key(email string) string { return "checkin:verify:" + email }

// Save stores the code under the email, replacing any live one.
func (s *RedisStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.Set(ctx, key(email), code, ttl).Err()
}

// Consume validates the code and invalidates it on success.
func (s *RedisStore) Consume(ctx context.Context, email, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{key(email)}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Healthy verifies redis connectivity for health checks.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
