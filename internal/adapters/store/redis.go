package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

const maxTxAttempts = 10

var ErrTxConflict = errors.New("admission state changed concurrently, giving up")

type RedisConfig struct {
	URL       string
	Prefix    string
	Retention time.Duration
}

// RedisStore shares admission state between instances. Each Transact is an
// optimistic WATCH/MULTI over the global key and the origin key; conflicts
// are retried.
//
// Key layout (prefix "llmo:" by default):
//
//	<prefix>global           JSON GlobalSecurityMetrics
//	<prefix>origin:<id>      JSON RequestOrigin, TTL = retention unless blacklisted
//	<prefix>origins          ZSET id -> last activity (unix seconds)
//	<prefix>blacklist        SET of blacklisted ids
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

var _ ports.SecurityStore = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "llmo:"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultMemoryConfig().Retention
	}
	log.Info().Str("addr", client.Options().Addr).Str("prefix", cfg.Prefix).Msg("Redis security store initialized")
	return &RedisStore{client: client, prefix: cfg.Prefix, retention: cfg.Retention}
}

func (s *RedisStore) globalKey() string {
	return s.prefix + "global"
}

func (s *RedisStore) originKey(id string) string {
	return s.prefix + "origin:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "origins"
}

func (s *RedisStore) blacklistKey() string {
	return s.prefix + "blacklist"
}

// abortErr carries an error returned by the caller's fn out of the WATCH
// callback so it is not mistaken for a redis failure.
type abortErr struct{ err error }

func (e abortErr) Error() string { return e.err.Error() }

func (s *RedisStore) Transact(ctx context.Context, originID string, now time.Time, fn ports.AdmissionTxFunc) error {
	gk, okey := s.globalKey(), s.originKey(originID)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			global, err := s.readGlobal(ctx, tx)
			if err != nil {
				return err
			}
			origin, err := s.readOrigin(ctx, tx, originID)
			if err != nil && !errors.Is(err, domain.ErrOriginNotFound) {
				return err
			}
			if origin == nil || origin.Expired(now, s.retention) {
				origin = domain.NewRequestOrigin(originID, now)
			}

			if err := fn(&global, origin); err != nil {
				return abortErr{err}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.writeAll(ctx, pipe, &global, origin, now)
			})
			return err
		}, gk, okey)

		var ab abortErr
		switch {
		case err == nil:
			return nil
		case errors.As(err, &ab):
			return ab.err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("redis transact: %w", err)
		}
	}
	return ErrTxConflict
}

func (s *RedisStore) writeAll(ctx context.Context, pipe redis.Pipeliner, global *domain.GlobalSecurityMetrics, origin *domain.RequestOrigin, now time.Time) error {
	gdata, err := json.Marshal(global)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.globalKey(), gdata, 0)
	return s.writeOrigin(ctx, pipe, origin, now)
}

func (s *RedisStore) writeOrigin(ctx context.Context, pipe redis.Pipeliner, origin *domain.RequestOrigin, now time.Time) error {
	odata, err := json.Marshal(origin)
	if err != nil {
		return err
	}
	ttl := s.retention
	if origin.Blacklisted {
		ttl = 0
	}
	pipe.Set(ctx, s.originKey(origin.ID), odata, ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.Unix()), Member: origin.ID})
	if origin.Blacklisted {
		pipe.SAdd(ctx, s.blacklistKey(), origin.ID)
	} else {
		pipe.SRem(ctx, s.blacklistKey(), origin.ID)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) readGlobal(ctx context.Context, c getter) (domain.GlobalSecurityMetrics, error) {
	var g domain.GlobalSecurityMetrics
	data, err := c.Get(ctx, s.globalKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return g, nil
	}
	if err != nil {
		return g, err
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("decode global metrics: %w", err)
	}
	return g, nil
}

func (s *RedisStore) readOrigin(ctx context.Context, c getter, id string) (*domain.RequestOrigin, error) {
	data, err := c.Get(ctx, s.originKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrOriginNotFound
	}
	if err != nil {
		return nil, err
	}
	var o domain.RequestOrigin
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode origin %s: %w", id, err)
	}
	return &o, nil
}

func (s *RedisStore) Global(ctx context.Context) (domain.GlobalSecurityMetrics, error) {
	return s.readGlobal(ctx, s.client)
}

func (s *RedisStore) Origin(ctx context.Context, originID string) (*domain.RequestOrigin, error) {
	return s.readOrigin(ctx, s.client, originID)
}

func (s *RedisStore) SetBlacklisted(ctx context.Context, originID string, blacklisted bool, now time.Time) error {
	okey := s.originKey(originID)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			origin, err := s.readOrigin(ctx, tx, originID)
			if errors.Is(err, domain.ErrOriginNotFound) {
				origin = domain.NewRequestOrigin(originID, now)
			} else if err != nil {
				return err
			}
			origin.Blacklisted = blacklisted
			if !blacklisted {
				origin.Violations = 0
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.writeOrigin(ctx, pipe, origin, now)
			})
			return err
		}, okey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxConflict
}

// Stats trims index entries idle past retention before counting, so the
// tracked count follows the same lazy expiry as the origin keys.
func (s *RedisStore) Stats(ctx context.Context) (tracked, blacklisted int, err error) {
	cutoff := time.Now().Add(-s.retention).Unix()
	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%d", cutoff))
	card := pipe.ZCard(ctx, s.indexKey())
	bl := pipe.SCard(ctx, s.blacklistKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis stats: %w", err)
	}
	return int(card.Val()), int(bl.Val()), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
