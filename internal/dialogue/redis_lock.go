package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"receptionist/pkg/utils"
)

// RedisLocker is a Locker shared by every API replica.
//
// A lease expires after TTL even if the holder crashes mid-turn.
type RedisLocker struct {
	rdb *redis.Client
	log *slog.Logger

	prefix string
	ttl    time.Duration
	poll   time.Duration
	wait   time.Duration
}

type RedisLockerConfig struct {
	Prefix string
	// TTL of a lease. Must exceed the longest turn (the completion budget plus persistence).
	TTL time.Duration
	// Poll is the interval between acquisition attempts.
	Poll time.Duration
	// Wait caps how long Lock blocks before giving up.
	Wait time.Duration
}

func NewRedisLocker(rdb *redis.Client, cfg RedisLockerConfig, log *slog.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "receptionist:call:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 50 * time.Millisecond
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{rdb: rdb, log: log, prefix: cfg.Prefix, ttl: cfg.TTL, poll: cfg.Poll, wait: cfg.Wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.rdb == nil {
		return nil, errors.New("dialogue: redis locker not configured")
	}
	redisKey := l.prefix + key
	token := uuid.NewString()

	eb := backoff.NewConstantBackOff(l.poll)
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	op := func() error {
		err := utils.TryLock(waitCtx, l.rdb, redisKey, token, l.ttl)
		if err == nil || errors.Is(err, utils.ErrLockHeld) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(eb, waitCtx)); err != nil {
		return nil, fmt.Errorf("dialogue: acquire lock %q: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := utils.Unlock(releaseCtx, l.rdb, redisKey, token); err != nil {
				l.log.Warn("failed to release turn lock", "key", key, "err", err)
			}
		})
	}, nil
}
