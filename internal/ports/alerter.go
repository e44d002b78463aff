// Package ports defines the interfaces between the admission and diagnosis
// core and the infrastructure around it.
//
// This package contains interfaces that define the contract between the core
// logic (internal/app) and external collaborators: counter stores, risk
// detectors, the rendering browser, notification channels and job queues.
//
// Design Principles:
//   - Interfaces are small and focused
//   - Dependencies flow inward (core domain has no external dependencies)
//   - Implementations provided by adapters in internal/adapters/
package ports

import (
	"context"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// Alerter dispatches security and operational alerts to an output.
//
// Implementations:
//   - JSONAlerter: Writes alerts as JSON lines to file or stdout
//   - MemoryAlerter: In-memory ring buffer served by the admin endpoint
//   - WebhookAlerter: POSTs alerts to an operator webhook
//
// Thread Safety: Implementations MUST be safe for concurrent Send() calls.
type Alerter interface {
	// Send dispatches an alert to the output destination.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - alert: Immutable alert to dispatch
	//
	// Returns:
	//   - nil on success
	//   - Error if dispatch fails (the dispatcher logs and moves on)
	Send(ctx context.Context, alert *domain.Alert) error

	// Flush forces pending alerts to be written to destination.
	Flush() error

	// Close releases resources and ensures all alerts are flushed.
	Close() error
}

// AlertSubscriber receives every dispatched alert, e.g. for metrics.
//
// Performance: Implementation should return quickly to avoid blocking
// the dispatcher.
type AlertSubscriber interface {
	OnAlert(alert *domain.Alert)
}

// AlertSink is the narrow fire-and-forget surface used by the core. Notify
// must never block or fail the caller.
type AlertSink interface {
	Notify(alert *domain.Alert)
}

// MetricsRecorder collects observability metrics.
// Implemented by the Prometheus adapter for scraping by monitoring systems.
//
// Thread Safety: All methods MUST be safe for concurrent calls.
type MetricsRecorder interface {
	// RecordAdmission counts one admission decision by outcome and reason.
	RecordAdmission(decision domain.AdmissionDecision)

	// RecordAnalysis records one finished analysis.
	//
	// Parameters:
	//   - outcome: "success", "fallback" or "cached"
	//   - seconds: wall-clock time until a result was available
	//   - score: overall score delivered to the submitter
	RecordAnalysis(outcome string, seconds float64, score int)

	// RecordNotification counts one report delivery by result
	// ("sent" or "failed").
	RecordNotification(result string)

	// SetQueueDepth updates the pending job gauge.
	SetQueueDepth(depth int)
}
