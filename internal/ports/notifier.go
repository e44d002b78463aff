package ports

import (
	"context"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// Notifier delivers a finished diagnosis report out of band.
//
// Contract: one attempt per call. Retries are the caller's concern.
type Notifier interface {
	SendReport(ctx context.Context, report *domain.Report) error
	Name() string
}
