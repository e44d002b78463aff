package domain

import "time"

// GlobalSecurityMetrics holds the process-wide admission counters.
type GlobalSecurityMetrics struct {
	TotalRequests   int64     `json:"total_requests"`
	DailyRequests   int64     `json:"daily_requests"`
	SuspiciousCount int64     `json:"suspicious_count"`
	BlockedCount    int64     `json:"blocked_count"`
	NextDailyReset  time.Time `json:"next_daily_reset"`
}

// RollDaily resets the daily counter when the reset time has elapsed. The
// schedule advances in whole days so a late observer still resets once.
func (g *GlobalSecurityMetrics) RollDaily(now time.Time) bool {
	if g.NextDailyReset.IsZero() {
		g.NextDailyReset = now.Add(DailyWindow)
		return false
	}
	if now.Before(g.NextDailyReset) {
		return false
	}
	g.DailyRequests = 0
	for !now.Before(g.NextDailyReset) {
		g.NextDailyReset = g.NextDailyReset.Add(DailyWindow)
	}
	return true
}

func (g *GlobalSecurityMetrics) RecordAdmitted() {
	g.TotalRequests++
	g.DailyRequests++
}

// ReleaseAdmitted undoes RecordAdmitted for an admission at admittedAt. The
// daily counter is only refunded while the same day is current.
func (g *GlobalSecurityMetrics) ReleaseAdmitted(admittedAt, now time.Time) {
	g.RollDaily(now)
	if g.TotalRequests > 0 {
		g.TotalRequests--
	}
	if g.DailyRequests > 0 && !admittedAt.Before(g.NextDailyReset.Add(-DailyWindow)) {
		g.DailyRequests--
	}
}

type HealthTier string

const (
	HealthHealthy   HealthTier = "healthy"
	HealthWarning   HealthTier = "warning"
	HealthCritical  HealthTier = "critical"
	HealthEmergency HealthTier = "emergency"
)

// SecuritySnapshot is the admin view of GlobalSecurityMetrics.
type SecuritySnapshot struct {
	GlobalSecurityMetrics
	DailyMax             int64      `json:"daily_max"`
	EmergencyThreshold   int64      `json:"emergency_threshold"`
	DailyUtilization     float64    `json:"daily_utilization_pct"`
	EmergencyUtilization float64    `json:"emergency_utilization_pct"`
	Health               HealthTier `json:"health"`
	ResetInSeconds       int64      `json:"reset_in_seconds"`
	BlacklistedOrigins   int        `json:"blacklisted_origins"`
	TrackedOrigins       int        `json:"tracked_origins"`
	GeneratedAt          time.Time  `json:"generated_at"`
}
