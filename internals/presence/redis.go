package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appmetrics "github.com/solostream/coordinator/internals/metrics"
)

// pairScript sets both directional pairing links iff neither side is already
// bound to a different peer. Returns 1 on success, 0 on conflict. Re-pairing
// the same couple succeeds.
var pairScript = redis.NewScript(`
local cur_viewer = redis.call("HGET", KEYS[1], ARGV[1])
if cur_viewer and cur_viewer ~= ARGV[2] then
	return 0
end
local cur_streamer = redis.call("HGET", KEYS[2], ARGV[2])
if cur_streamer and cur_streamer ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// removeOrphanScript drops the online record only while no session is bound,
// so it cannot erase the record of a connect that landed in between.
var removeOrphanScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[2], ARGV[1]) == 1 then
	return 0
end
return redis.call("ZREM", KEYS[1], ARGV[1])
`)

// RedisStore implements Store on Redis sorted sets and hashes. It is the
// shared backing for all coordinator instances; nothing is cached locally
// because pairings must be visible across processes immediately.
type RedisStore struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisStore dials Redis and verifies the connection.
func NewRedisStore(redisAddr, redisPassword string, redisDB int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           redisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis connection established",
		zap.String("addr", redisAddr),
		zap.Int("db", redisDB),
	)

	return &RedisStore{redis: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps ownership
// of the client's lifecycle.
func NewRedisStoreFromClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{redis: client, logger: logger}
}

// Client returns the underlying Redis client for pub/sub and lock usage.
func (s *RedisStore) Client() *redis.Client {
	return s.redis
}

func (s *RedisStore) MarkOnline(ctx context.Context, role Role, id int64, now time.Time) error {
	err := s.redis.ZAdd(ctx, OnlineKey(role), redis.Z{
		Score:  float64(now.Unix()),
		Member: id,
	}).Err()
	return s.noteErr("mark online", err)
}

func (s *RedisStore) Touch(ctx context.Context, role Role, id int64, now time.Time) error {
	// XX: refresh only, never resurrect a removed record.
	err := s.redis.ZAddXX(ctx, OnlineKey(role), redis.Z{
		Score:  float64(now.Unix()),
		Member: id,
	}).Err()
	return s.noteErr("touch", err)
}

func (s *RedisStore) RemoveOnline(ctx context.Context, role Role, id int64) error {
	err := s.redis.ZRem(ctx, OnlineKey(role), id).Err()
	return s.noteErr("remove online", err)
}

func (s *RedisStore) RemoveOrphan(ctx context.Context, role Role, id int64) error {
	err := removeOrphanScript.Run(ctx, s.redis,
		[]string{OnlineKey(role), SessionKey(role)},
		strconv.FormatInt(id, 10),
	).Err()
	return s.noteErr("remove orphan", err)
}

func (s *RedisStore) BindSession(ctx context.Context, role Role, id int64, sessionID string) error {
	err := s.redis.HSet(ctx, SessionKey(role), strconv.FormatInt(id, 10), sessionID).Err()
	return s.noteErr("bind session", err)
}

func (s *RedisStore) LookupSession(ctx context.Context, role Role, id int64) (string, error) {
	sid, err := s.redis.HGet(ctx, SessionKey(role), strconv.FormatInt(id, 10)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return sid, s.noteErr("lookup session", err)
}

func (s *RedisStore) UnbindSession(ctx context.Context, role Role, id int64) error {
	err := s.redis.HDel(ctx, SessionKey(role), strconv.FormatInt(id, 10)).Err()
	return s.noteErr("unbind session", err)
}

func (s *RedisStore) Pair(ctx context.Context, streamerID, viewerID int64) error {
	ok, err := pairScript.Run(ctx, s.redis,
		[]string{KeyStreamersViewers, KeyViewersStreamers},
		strconv.FormatInt(streamerID, 10),
		strconv.FormatInt(viewerID, 10),
	).Int()
	if err != nil {
		return s.noteErr("pair", err)
	}
	if ok != 1 {
		return ErrPairConflict
	}
	return nil
}

func (s *RedisStore) Unpair(ctx context.Context, streamerID int64) error {
	viewerID, paired, err := s.ViewerOf(ctx, streamerID)
	if err != nil || !paired {
		return err
	}
	return s.deletePairing(ctx, streamerID, viewerID)
}

func (s *RedisStore) UnpairByViewer(ctx context.Context, viewerID int64) error {
	streamerID, paired, err := s.StreamerOf(ctx, viewerID)
	if err != nil || !paired {
		return err
	}
	return s.deletePairing(ctx, streamerID, viewerID)
}

func (s *RedisStore) deletePairing(ctx context.Context, streamerID, viewerID int64) error {
	pipe := s.redis.Pipeline()
	pipe.HDel(ctx, KeyStreamersViewers, strconv.FormatInt(streamerID, 10))
	pipe.HDel(ctx, KeyViewersStreamers, strconv.FormatInt(viewerID, 10))
	_, err := pipe.Exec(ctx)
	return s.noteErr("unpair", err)
}

func (s *RedisStore) ViewerOf(ctx context.Context, streamerID int64) (int64, bool, error) {
	return s.pairLookup(ctx, KeyStreamersViewers, streamerID)
}

func (s *RedisStore) StreamerOf(ctx context.Context, viewerID int64) (int64, bool, error) {
	return s.pairLookup(ctx, KeyViewersStreamers, viewerID)
}

func (s *RedisStore) pairLookup(ctx context.Context, key string, id int64) (int64, bool, error) {
	raw, err := s.redis.HGet(ctx, key, strconv.FormatInt(id, 10)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.noteErr("pair lookup", err)
	}
	peer, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Corrupt entry; treat as unpaired rather than failing the caller.
		s.logger.Warn("Dropping unparseable pairing entry",
			zap.String("key", key),
			zap.String("value", raw),
		)
		return 0, false, nil
	}
	return peer, true, nil
}

func (s *RedisStore) ListStale(ctx context.Context, role Role, cutoff time.Time, pageSize int, fn func(id int64) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}

	// Offset paging over the score range. Members removed mid-walk shift the
	// offsets, so an id may be skipped; the walk always terminates because
	// the offset only grows.
	var offset int64
	for {
		raw, err := s.redis.ZRangeByScore(ctx, OnlineKey(role), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    fmt.Sprintf("(%d", cutoff.Unix()),
			Offset: offset,
			Count:  int64(pageSize),
		}).Result()
		if err != nil {
			return s.noteErr("list stale", err)
		}

		for _, member := range raw {
			id, perr := strconv.ParseInt(member, 10, 64)
			if perr != nil {
				s.logger.Warn("Skipping unparseable online set member",
					zap.String("role", string(role)),
					zap.String("member", member),
				)
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}

		if len(raw) < pageSize {
			return nil
		}
		offset += int64(len(raw))
	}
}

func (s *RedisStore) ListFreeStreamers(ctx context.Context) ([]int64, error) {
	members, err := s.redis.ZRange(ctx, KeyStreamersOnline, 0, -1).Result()
	if err != nil {
		return nil, s.noteErr("list free streamers", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	seated, err := s.redis.HMGet(ctx, KeyStreamersViewers, members...).Result()
	if err != nil {
		return nil, s.noteErr("list free streamers", err)
	}

	free := make([]int64, 0, len(members))
	for i, member := range members {
		if seated[i] != nil {
			continue
		}
		id, perr := strconv.ParseInt(member, 10, 64)
		if perr != nil {
			continue
		}
		free = append(free, id)
	}
	return free, nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

func (s *RedisStore) noteErr(op string, err error) error {
	if err != nil {
		appmetrics.RedisErrorsTotal.Inc()
		s.logger.Error("Redis presence operation failed",
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return err
}
