// Package store holds the admission state backends: sharded in-process maps,
// redis for multi-instance deployments, and bbolt for blacklist persistence.
package store

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
	"github.com/gyakuten/llmoradar/pkg/lru"
)

const numShards = 16

var shardSeed = maphash.MakeSeed()

type MemoryConfig struct {
	MaxOrigins    int
	Retention     time.Duration
	SweepInterval time.Duration
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxOrigins:    100000,
		Retention:     7 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

type originShard struct {
	mu      sync.Mutex
	origins *lru.Cache[string, *domain.RequestOrigin]
}

// MemoryStore keeps admission state in process memory. All state is lost on
// restart; the blacklist can be restored from a BlacklistStore.
//
// Origins are spread over shards keyed by a seeded hash of the origin id.
// Blacklisted origins are pinned so capacity eviction never drops them.
// Idle origins are purged when a later request observes they have expired.
type MemoryStore struct {
	shards    [numShards]*originShard
	globalMu  sync.Mutex
	global    domain.GlobalSecurityMetrics
	cfg       MemoryConfig
	lastSweep atomic.Int64
}

var _ ports.SecurityStore = (*MemoryStore)(nil)

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	def := DefaultMemoryConfig()
	if cfg.MaxOrigins <= 0 {
		cfg.MaxOrigins = def.MaxOrigins
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	s := &MemoryStore{cfg: cfg}
	perShard := cfg.MaxOrigins / numShards
	if perShard < 1 {
		perShard = 1
	}
	for i := range s.shards {
		s.shards[i] = &originShard{origins: lru.New[string, *domain.RequestOrigin](perShard)}
	}
	return s
}

func (s *MemoryStore) shard(id string) *originShard {
	return s.shards[maphash.String(shardSeed, id)%numShards]
}

func (s *MemoryStore) Transact(_ context.Context, originID string, now time.Time, fn ports.AdmissionTxFunc) error {
	s.maybeSweep(now)

	sh := s.shard(originID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var work *domain.RequestOrigin
	if o, ok := sh.origins.Get(originID); ok && !o.Expired(now, s.cfg.Retention) {
		work = o.Clone()
	} else {
		if ok {
			sh.origins.Delete(originID)
		}
		work = domain.NewRequestOrigin(originID, now)
	}

	s.globalMu.Lock()
	global := s.global
	err := fn(&global, work)
	if err == nil {
		s.global = global
	}
	s.globalMu.Unlock()
	if err != nil {
		return err
	}

	sh.origins.Put(originID, work)
	sh.origins.Pin(originID, work.Blacklisted)
	return nil
}

func (s *MemoryStore) Global(_ context.Context) (domain.GlobalSecurityMetrics, error) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	return s.global, nil
}

func (s *MemoryStore) Origin(_ context.Context, originID string) (*domain.RequestOrigin, error) {
	sh := s.shard(originID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	o, ok := sh.origins.Get(originID)
	if !ok {
		return nil, domain.ErrOriginNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) SetBlacklisted(_ context.Context, originID string, blacklisted bool, now time.Time) error {
	sh := s.shard(originID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var o *domain.RequestOrigin
	if existing, ok := sh.origins.Get(originID); ok {
		o = existing.Clone()
	} else {
		o = domain.NewRequestOrigin(originID, now)
	}
	o.Blacklisted = blacklisted
	if !blacklisted {
		o.Violations = 0
	}
	sh.origins.Put(originID, o)
	sh.origins.Pin(originID, blacklisted)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (tracked, blacklisted int, err error) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		tracked += sh.origins.Len()
		blacklisted += sh.origins.PinnedCount()
		sh.mu.Unlock()
	}
	return tracked, blacklisted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// maybeSweep purges expired origins at most once per SweepInterval. Only the
// caller that wins the CAS sweeps; it holds one shard lock at a time.
func (s *MemoryStore) maybeSweep(now time.Time) {
	last := s.lastSweep.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < s.cfg.SweepInterval {
		return
	}
	if !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	if last == 0 {
		return
	}

	purged := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		purged += sh.origins.RemoveFunc(func(_ string, o *domain.RequestOrigin) bool {
			return o.Expired(now, s.cfg.Retention)
		})
		sh.mu.Unlock()
	}
	if purged > 0 {
		log.Debug().Int("purged", purged).Msg("Purged idle origins")
	}
}
