package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if this holder still owns it, so
// a lock that expired and was re-acquired elsewhere is never released by the
// stale holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. The TTL bounds how long a
// crashed holder can block provisioning for a user.
type RedisLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           30 * time.Second,
		retryInterval: 50 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "lock:" + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				_, _ = releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Result()
			}
			return release, nil
		}

		select {
		case <-time.After(l.retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
