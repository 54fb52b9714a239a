package lockersvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/edupay/feeledger/core"
)

const (
	redisKeyPrefix   = "feeledger:lock:"
	redisRetryEvery  = 50 * time.Millisecond
	redisReleaseWait = 5 * time.Second
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry back only while the lock still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a core.Locker shared by every process using the same redis server.
// A held lock is extended every ttl/3 until released, so it only expires when its
// holder dies.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger core.Logger
}

var _ core.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger core.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects to the configured redis server and pings it.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := redisKeyPrefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(redisRetryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, errors.Wrapf(err, "locking %s", key)
		}
		if ok {
			stop := make(chan struct{})
			go l.keepAlive(rkey, token, stop)
			return l.releaser(rkey, token, stop), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "locking %s", key)
		}
	}
}

func refreshEvery(ttl time.Duration) time.Duration {
	if every := ttl / 3; every > redisRetryEvery {
		return every
	}
	return redisRetryEvery
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *RedisLocker) keepAlive(rkey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(refreshEvery(l.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), redisReleaseWait)
		n, err := extendScript.Run(ctx, l.client, []string{rkey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			if l.logger != nil {
				l.logger.Warn(fmt.Sprintf("extending lock %s: %v", rkey, err), err)
			}
		case n == 0:
			if l.logger != nil {
				l.logger.Error(fmt.Sprintf("lock %s expired while held", rkey))
			}
			return
		}
	}
}

func (l *RedisLocker) releaser(rkey, token string, stop chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), redisReleaseWait)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{rkey}, token).Err(); err != nil && l.logger != nil {
				l.logger.Error(fmt.Sprintf("releasing lock %s: %v", rkey, err), err)
			}
		})
	}
}

// New returns the redis locker when redis is configured and an in-process
// KeyedMutex otherwise. Processes sharing a database must share the redis locker.
func New(ctx context.Context, conf *core.Config, logger core.Logger) (core.Locker, error) {
	if conf.Redis.Addr == "" {
		return NewKeyedMutex(), nil
	}
	client, err := NewRedisClient(ctx, conf)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return NewRedisLocker(client, conf.Redis.LockTTL, logger), nil
}
