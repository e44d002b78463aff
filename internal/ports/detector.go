package ports

import (
	"context"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// RiskDetector contributes weighted risk signals for one admission request.
//
// Implementations:
//   - ClientDetector: non-browser user agents, headless signatures, missing headers
//   - ContentDetector: spam keywords, duplicate and placeholder values, honeypot
//   - GeoDetector: coarse country risk from edge headers
//   - PayloadDetector: disposable email domains, suspicious TLDs, malformed URLs
//
// Contract:
//   - MUST be safe for concurrent calls
//   - MUST NOT modify the request
//   - MUST treat malformed or missing input as risk, never as an error
type RiskDetector interface {
	Assess(ctx context.Context, req *domain.AdmissionRequest) domain.RiskAssessment

	// Name returns the detector's identifier for logging and metrics.
	Name() string
}
