package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultTTL = 30 * time.Second

// Compare-and-delete / compare-and-extend: only the token that took the lease may touch it.
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLock is a Locker backed by SET NX PX on a single key.
//
// The holder renews the key every ttl/3 until Release. If the process dies
// the key expires after ttl and the next session can start.
type RedisLock struct {
	client goredis.UniversalClient
	key    string
	ttl    time.Duration
	log    *slog.Logger
}

var _ Locker = (*RedisLock)(nil)

func NewRedisLock(client goredis.UniversalClient, key string, ttl time.Duration, log *slog.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl, log: logger.OrDefault(log)}
}

func (l *RedisLock) TryLock(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	rl := &redisLease{lock: l, token: token, stop: make(chan struct{}), lost: make(chan struct{})}
	rl.wg.Add(1)
	go rl.keepAlive()
	return rl, nil
}

type redisLease struct {
	lock  *RedisLock
	token string

	stop chan struct{}
	lost chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func (r *redisLease) Lost() <-chan struct{} { return r.lost }

// keepAlive renews the key every ttl/3. The lease counts as lost when the key
// was taken over, or when no renewal succeeded within ttl.
func (r *redisLease) keepAlive() {
	defer r.wg.Done()
	t := time.NewTicker(r.lock.ttl / 3)
	defer t.Stop()
	renewed := time.Now()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.lock.ttl/3)
			n, err := renewScript.Run(ctx, r.lock.client, []string{r.lock.key}, r.token, r.lock.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err == nil && n == 1:
				renewed = time.Now()
				continue
			case err == nil:
				r.lock.log.Error("lease lost", "key", r.lock.key)
			case time.Since(renewed) >= r.lock.ttl:
				r.lock.log.Error("lease expired while renew failing", "key", r.lock.key, "err", err)
			default:
				r.lock.log.Warn("lease renew failed", "key", r.lock.key, "err", err)
				continue
			}
			close(r.lost)
			return
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()

		n, runErr := releaseScript.Run(ctx, r.lock.client, []string{r.lock.key}, r.token).Int64()
		if runErr != nil {
			err = fmt.Errorf("lease: release %s: %w", r.lock.key, runErr)
			return
		}
		if n == 0 {
			err = ErrNotHeld
		}
	})
	return err
}
