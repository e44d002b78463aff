package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var (
	ErrQueueFull   = errors.New("diagnosis queue full")
	ErrPoolStopped = errors.New("worker pool not running")
)

var _ ports.JobQueue = (*WorkerPool)(nil)

// WorkerPool runs diagnosis jobs on a fixed set of goroutines.
//
// Features:
//   - Backpressure with a configurable submit timeout
//   - Spool to disk when the queue saturates or the pool stops
//   - Replay of spooled jobs on Start
//   - Quarantine of jobs whose processing panics, with worker restart
//
// Thread Safety: All public methods are safe for concurrent access.
type WorkerPool struct {
	workerCount   int
	jobs          chan *domain.DiagnosisJob
	bufferSize    int
	submitTimeout time.Duration
	handler       ports.JobHandler
	metrics       ports.MetricsRecorder

	spool     *Spool
	spooled   atomic.Int64
	processed atomic.Int64
	panics    atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
	running  bool
	mu       sync.RWMutex
}

type WorkerPoolConfig struct {
	WorkerCount   int           // Number of worker goroutines (default: 4)
	BufferSize    int           // Queued jobs before backpressure (default: 100)
	SubmitTimeout time.Duration // Max wait for queue space (default: 250ms)
	SpoolPath     string        // JSONL spool file (empty disables)
}

func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:   4,
		BufferSize:    100,
		SubmitTimeout: 250 * time.Millisecond,
	}
}

// NewWorkerPool creates a pool ready for Start. metrics may be nil.
func NewWorkerPool(config WorkerPoolConfig, metrics ports.MetricsRecorder) *WorkerPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 250 * time.Millisecond
	}

	wp := &WorkerPool{
		workerCount:   config.WorkerCount,
		jobs:          make(chan *domain.DiagnosisJob, config.BufferSize),
		bufferSize:    config.BufferSize,
		submitTimeout: config.SubmitTimeout,
		metrics:       metrics,
		stopChan:      make(chan struct{}),
	}

	spool, err := OpenSpool(config.SpoolPath)
	if err != nil {
		log.Error().Err(err).Str("path", config.SpoolPath).Msg("Failed to open job spool, spooling disabled")
		spool, _ = OpenSpool("")
	}
	wp.spool = spool

	return wp
}

// Start launches the workers and replays spooled jobs. Idempotent.
func (wp *WorkerPool) Start(ctx context.Context, handler ports.JobHandler) {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = true
	wp.handler = handler
	wp.mu.Unlock()

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	log.Info().
		Int("workers", wp.workerCount).
		Int("buffer", wp.bufferSize).
		Bool("spool", wp.spool.Enabled()).
		Msg("Worker pool started")

	wp.replay(ctx)
}

func (wp *WorkerPool) replay(ctx context.Context) {
	jobs, err := wp.spool.Drain()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read job spool")
		return
	}
	if len(jobs) == 0 {
		return
	}
	replayed := 0
	for _, job := range jobs {
		if err := wp.Enqueue(ctx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to replay spooled job")
			continue
		}
		replayed++
	}
	log.Info().Int("replayed", replayed).Int("spooled", len(jobs)).Msg("Replayed spooled diagnosis jobs")
}

// worker is the processing loop of one goroutine. A panic quarantines the
// current job and restarts the worker.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	var current *domain.DiagnosisJob

	defer func() {
		if r := recover(); r != nil {
			wp.panics.Add(1)
			log.Error().
				Interface("panic", r).
				Int("worker_id", id).
				Msg("Worker panic recovered")

			if current != nil {
				if err := wp.spool.Quarantine(id, r, current); err != nil {
					log.Error().Err(err).Int("worker_id", id).Msg("Failed to quarantine diagnosis job")
				}
			}

			wp.wg.Add(1)
			go wp.worker(ctx, id)
		}
	}()

	log.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker stopped (context cancelled)")
			return
		case <-wp.stopChan:
			log.Debug().Int("worker_id", id).Msg("Worker stopped (stop signal)")
			return
		case job := <-wp.jobs:
			wp.reportDepth()
			current = job
			if err := wp.handler(ctx, job); err != nil {
				log.Error().Err(err).Str("job_id", job.ID).Int("worker_id", id).Msg("Diagnosis job failed")
			}
			wp.processed.Add(1)
			current = nil
		}
	}
}

// Enqueue hands a job to the workers, waiting up to the submit timeout for
// queue space. A saturated or stopped pool spools the job instead.
func (wp *WorkerPool) Enqueue(ctx context.Context, job *domain.DiagnosisJob) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return wp.spoolJob(job, "pool stopped", ErrPoolStopped)
	}

	select {
	case wp.jobs <- job:
		wp.reportDepth()
		return nil
	default:
	}

	timer := time.NewTimer(wp.submitTimeout)
	defer timer.Stop()
	select {
	case wp.jobs <- job:
		wp.reportDepth()
		return nil
	case <-ctx.Done():
		return wp.spoolJob(job, "submit cancelled", ctx.Err())
	case <-timer.C:
		return wp.spoolJob(job, "queue saturated", ErrQueueFull)
	}
}

func (wp *WorkerPool) spoolJob(job *domain.DiagnosisJob, reason string, cause error) error {
	if !wp.spool.Enabled() {
		return cause
	}
	if err := wp.spool.Append(job, reason); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to spool diagnosis job")
		return cause
	}
	wp.spooled.Add(1)
	log.Warn().Str("job_id", job.ID).Str("reason", reason).Msg("Diagnosis job spooled")
	return nil
}

func (wp *WorkerPool) reportDepth() {
	if wp.metrics != nil {
		wp.metrics.SetQueueDepth(len(wp.jobs))
	}
}

// Stop waits for in-flight jobs, spools jobs still queued and closes the
// spool. Idempotent.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.running = false
		wp.mu.Unlock()

		close(wp.stopChan)
		wp.wg.Wait()

		leftover := 0
	drain:
		for {
			select {
			case job := <-wp.jobs:
				if err := wp.spoolJob(job, "shutdown", ErrPoolStopped); err != nil {
					log.Error().Str("job_id", job.ID).Msg("Diagnosis job lost at shutdown")
				}
				leftover++
			default:
				break drain
			}
		}

		if err := wp.spool.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job spool")
		}

		log.Info().
			Int64("processed", wp.processed.Load()).
			Int64("spooled", wp.spooled.Load()).
			Int("left_in_queue", leftover).
			Msg("Worker pool stopped")
	})
}

func (wp *WorkerPool) Running() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// Depth returns the jobs waiting for a worker.
func (wp *WorkerPool) Depth() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) Capacity() int {
	return wp.bufferSize
}

func (wp *WorkerPool) Processed() int64 {
	return wp.processed.Load()
}

func (wp *WorkerPool) Spooled() int64 {
	return wp.spooled.Load()
}

func (wp *WorkerPool) Panics() int64 {
	return wp.panics.Load()
}
