package seatlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appmetrics "github.com/solostream/coordinator/internals/metrics"
	"github.com/solostream/coordinator/internals/presence"
)

// releaseScript deletes the lock only when the caller still holds it, so a
// lock that expired and was re-acquired by somebody else is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const acquireRetryInterval = 50 * time.Millisecond

// RedisLocker implements Locker with SET NX PX. It is the only cross-process
// exclusion mechanism; in-process locking alone is not enough because several
// coordinator instances share one store.
type RedisLocker struct {
	redis  *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		redis:  client,
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, streamerID int64) (Guard, error) {
	key := presence.SeatLockKey(streamerID)
	token := uuid.NewString()
	started := time.Now()
	deadline := started.Add(l.wait)

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			appmetrics.RedisErrorsTotal.Inc()
			return nil, err
		}
		if ok {
			appmetrics.LockAcquireSeconds.Observe(time.Since(started).Seconds())
			g := &redisGuard{
				locker: l,
				key:    key,
				token:  token,
				stop:   make(chan struct{}),
			}
			go g.extendLoop()
			return g, nil
		}

		if time.Now().After(deadline) {
			appmetrics.LockTimeoutsTotal.Inc()
			l.logger.Warn("Seat lock acquisition timed out",
				zap.Int64("streamerID", streamerID),
				zap.Duration("wait", l.wait),
			)
			return nil, ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

type redisGuard struct {
	locker *RedisLocker
	key    string
	token  string
	stop   chan struct{}
	once   sync.Once
}

// extendLoop refreshes the TTL while the guard is held. A critical section
// that outlives the base TTL therefore keeps its exclusivity instead of
// silently losing the lock mid-sequence.
func (g *redisGuard) extendLoop() {
	interval := g.locker.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := g.locker.redis.PExpire(ctx, g.key, g.locker.ttl).Err()
			cancel()
			if err != nil {
				g.locker.logger.Warn("Failed to extend seat lock",
					zap.String("key", g.key),
					zap.Error(err),
				)
			}
		}
	}
}

func (g *redisGuard) Release() {
	g.once.Do(func() {
		close(g.stop)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.locker.redis, []string{g.key}, g.token).Err(); err != nil {
			appmetrics.RedisErrorsTotal.Inc()
			g.locker.logger.Warn("Failed to release seat lock",
				zap.String("key", g.key),
				zap.Error(err),
			)
		}
	})
}
