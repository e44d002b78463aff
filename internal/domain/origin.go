package domain

import (
	"errors"
	"time"
)

var ErrOriginNotFound = errors.New("origin not found")

const (
	HourlyWindow = time.Hour
	DailyWindow  = 24 * time.Hour
)

// RequestOrigin is the admission state tracked per caller address.
type RequestOrigin struct {
	ID          string    `json:"id"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	TotalCount  int64     `json:"total_count"`
	HourlyReset time.Time `json:"hourly_reset"`
	DailyReset  time.Time `json:"daily_reset"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	RiskScore   int       `json:"risk_score"`
	Violations  int       `json:"consecutive_violations"`
	Blacklisted bool      `json:"blacklisted"`
	Patterns    []string  `json:"patterns,omitempty"`
}

// NewRequestOrigin creates the record for a first-seen origin. LastSeen stays
// zero until the first request has been fully evaluated.
func NewRequestOrigin(id string, now time.Time) *RequestOrigin {
	return &RequestOrigin{
		ID:          id,
		FirstSeen:   now,
		HourlyReset: now.Add(HourlyWindow),
		DailyReset:  now.Add(DailyWindow),
	}
}

// RollWindows resets any counter whose window has elapsed at now.
func (o *RequestOrigin) RollWindows(now time.Time) {
	if !now.Before(o.HourlyReset) {
		o.HourlyCount = 0
		o.HourlyReset = now.Add(HourlyWindow)
	}
	if !now.Before(o.DailyReset) {
		o.DailyCount = 0
		o.DailyReset = now.Add(DailyWindow)
	}
}

// ReleaseAdmission returns the quota an admission at admittedAt consumed.
// Counters whose window has rolled since then are left alone.
func (o *RequestOrigin) ReleaseAdmission(admittedAt, now time.Time) {
	o.RollWindows(now)
	if o.HourlyCount > 0 && !admittedAt.Before(o.HourlyReset.Add(-HourlyWindow)) {
		o.HourlyCount--
	}
	if o.DailyCount > 0 && !admittedAt.Before(o.DailyReset.Add(-DailyWindow)) {
		o.DailyCount--
	}
	if o.TotalCount > 0 {
		o.TotalCount--
	}
}

func (o *RequestOrigin) LastActivity() time.Time {
	if o.LastSeen.IsZero() {
		return o.FirstSeen
	}
	return o.LastSeen
}

// Expired reports whether the origin has been idle longer than retention.
// Blacklisted origins never expire; clearing them is a manual action.
func (o *RequestOrigin) Expired(now time.Time, retention time.Duration) bool {
	if o.Blacklisted {
		return false
	}
	return now.Sub(o.LastActivity()) > retention
}

func (o *RequestOrigin) AddPatterns(tags ...string) {
	for _, tag := range tags {
		if !o.HasPattern(tag) {
			o.Patterns = append(o.Patterns, tag)
		}
	}
}

func (o *RequestOrigin) HasPattern(tag string) bool {
	for _, p := range o.Patterns {
		if p == tag {
			return true
		}
	}
	return false
}

func (o *RequestOrigin) Clone() *RequestOrigin {
	c := *o
	if o.Patterns != nil {
		c.Patterns = append([]string(nil), o.Patterns...)
	}
	return &c
}
