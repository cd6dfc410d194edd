package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
)

// Release gives back a held run lock.
type Release func(ctx context.Context) error

// Lock serializes pipeline runs. Acquire fails with RUN_IN_PROGRESS when
// another run holds it.
type Lock interface {
	Acquire(ctx context.Context) (Release, error)
}

const DefaultLockKey = "placement-mailer:run-lock"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript pushes the expiry out while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a SET NX PX lock shared by every process using the same Redis.
// While held, the expiry is renewed every third of the TTL until release.
type RedisLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	renewEvery time.Duration
	logger     logger.Logger
	newToken   func() string
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{
		client:     client,
		key:        key,
		ttl:        ttl,
		renewEvery: ttl / 3,
		logger:     log.WithFields(map[string]interface{}{"lock": key}),
		newToken:   uuid.NewString,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.NewPersistenceError("acquire run lock", err)
	}
	if !ok {
		holder, err := l.client.Get(ctx, l.key).Result()
		if err != nil && err != redis.Nil {
			l.logger.Warn("failed to read run lock holder", map[string]interface{}{"error": err})
		}
		return nil, errors.NewRunInProgressError(holder)
	}

	stop := l.keepAlive(token)
	return func(ctx context.Context) error {
		stop()
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return errors.NewPersistenceError("release run lock", err)
		}
		if n == 0 {
			return fmt.Errorf("run lock %s expired before release", l.key)
		}
		return nil
	}, nil
}

// keepAlive renews the lock in the background. The returned func stops the
// renewal and waits for it to exit.
func (l *RedisLock) keepAlive(token string) func() {
	if l.ttl <= 0 || l.renewEvery <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
				n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
				cancel()
				if err != nil {
					l.logger.Warn("failed to renew run lock", map[string]interface{}{"error": err.Error()})
					continue
				}
				if n == 0 {
					l.logger.Warn("run lock lost", nil)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

// LocalLock is the single-process fallback used when Redis is not configured.
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) Acquire(ctx context.Context) (Release, error) {
	if !l.mu.TryLock() {
		return nil, errors.NewRunInProgressError("local")
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
