package ports

import (
	"context"
	"time"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// AdmissionTxFunc mutates the global metrics and one origin record as a
// single atomic unit. origin is never nil; a first-seen origin arrives
// freshly created.
type AdmissionTxFunc func(global *domain.GlobalSecurityMetrics, origin *domain.RequestOrigin) error

// SecurityStore holds admission counters and the blacklist flag.
//
// Implementations:
//   - MemoryStore: sharded in-process maps, for single-process deployments
//   - RedisStore: WATCH/MULTI transactions, for multi-instance deployments
//
// Retention: origins idle longer than the configured retention are purged
// lazily on access. Implementations do not run background timers.
type SecurityStore interface {
	// Transact runs fn against the current state and persists the result
	// only if fn returns nil. The error of fn is returned unchanged.
	Transact(ctx context.Context, originID string, now time.Time, fn AdmissionTxFunc) error

	// Global returns a copy of the process-wide counters.
	Global(ctx context.Context) (domain.GlobalSecurityMetrics, error)

	// Origin returns a copy of one origin record or domain.ErrOriginNotFound.
	Origin(ctx context.Context, originID string) (*domain.RequestOrigin, error)

	// SetBlacklisted sets or clears the blacklist flag, creating the origin
	// if needed. Clearing also resets consecutive violations.
	SetBlacklisted(ctx context.Context, originID string, blacklisted bool, now time.Time) error

	// Stats returns tracked and blacklisted origin counts.
	Stats(ctx context.Context) (tracked, blacklisted int, err error)

	Close() error
}

// BlacklistStore persists blacklist decisions across restarts.
type BlacklistStore interface {
	Put(originID string, entry domain.BlacklistEntry) error
	Delete(originID string) error
	All() (map[string]domain.BlacklistEntry, error)
	Close() error
}
