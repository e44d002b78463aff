package ports

import (
	"context"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// JobHandler processes one diagnosis job to completion.
type JobHandler func(ctx context.Context, job *domain.DiagnosisJob) error

// JobQueue detaches diagnosis work from the HTTP response path.
//
// Implementations:
//   - WorkerPool: in-process workers with a JSONL spool for overflow
//   - RabbitQueue: durable AMQP queue
type JobQueue interface {
	// Enqueue hands the job off. nil means it will be processed or has been
	// persisted for later processing.
	Enqueue(ctx context.Context, job *domain.DiagnosisJob) error

	// Depth returns the number of jobs waiting, or -1 if unknown.
	Depth() int
}
