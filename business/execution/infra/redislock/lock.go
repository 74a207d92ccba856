// Package redislock serializes executions per account across processes with
// a Redis SET NX lock.
package redislock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fd1az/triarb/internal/apperror"
)

// releaseLua deletes the key only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker implements the execution Locker port on Redis.
type Locker struct {
	rdb     redis.UniversalClient
	release *redis.Script
}

// Dial parses a redis:// URL and verifies the server with a ping.
func Dial(ctx context.Context, url string) (*Locker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("parse redis url"), apperror.WithCause(err))
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperror.New(apperror.CodeStorageError, apperror.WithContext("ping redis"), apperror.WithCause(err))
	}
	return New(rdb), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb, release: redis.NewScript(releaseLua)}
}

// TryLock takes key for ttl without waiting. The returned unlock is safe to
// call more than once and survives a cancelled caller context.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, apperror.New(apperror.CodeStorageError,
			apperror.WithContextf("acquire lock %s", key), apperror.WithCause(err))
	}
	if !ok {
		return nil, apperror.New(apperror.CodeExecutionInProgress, apperror.WithContextf("lock %s is held", key))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(ctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}

func (l *Locker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	return l.rdb.Close()
}
