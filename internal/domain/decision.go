package domain

import (
	"math"
	"net/url"
	"strings"
	"time"
)

type DecisionReason string

const (
	ReasonAllowed          DecisionReason = "allowed"
	ReasonEmergencyStop    DecisionReason = "emergency_stop"
	ReasonDailyCap         DecisionReason = "daily_cap"
	ReasonBlacklisted      DecisionReason = "blacklisted"
	ReasonHourlyLimit      DecisionReason = "hourly_limit"
	ReasonOriginDailyLimit DecisionReason = "origin_daily_limit"
	ReasonHighRisk         DecisionReason = "high_risk"
	ReasonStoreUnavailable DecisionReason = "store_unavailable"
)

// AdmissionRequest is what the admission controller sees of an inbound call.
// Header keys are lower-case.
type AdmissionRequest struct {
	Origin     string
	UserAgent  string
	Headers    map[string]string
	Payload    map[string]any
	ReceivedAt time.Time
}

func (r *AdmissionRequest) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[strings.ToLower(name)]
}

func (r *AdmissionRequest) HasHeader(name string) bool {
	if r.Headers == nil {
		return false
	}
	_, ok := r.Headers[strings.ToLower(name)]
	return ok
}

// Field returns a payload value as a string. ok is false when the key is
// missing or the value is not a string.
func (r *AdmissionRequest) Field(key string) (string, bool) {
	v, present := r.Payload[key]
	if !present || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadURLHost returns the lower-cased host of the submitted url field.
func (r *AdmissionRequest) PayloadURLHost() string {
	raw, ok := r.Field("url")
	if !ok {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

const MaxRiskScore = 100

// RiskAssessment accumulates weighted risk signals.
type RiskAssessment struct {
	Score int      `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

func (a *RiskAssessment) Add(weight int, tag string) {
	if weight <= 0 {
		return
	}
	a.Score += weight
	a.Tags = append(a.Tags, tag)
}

func (a *RiskAssessment) Merge(other RiskAssessment) {
	a.Score += other.Score
	a.Tags = append(a.Tags, other.Tags...)
}

// Total is the score capped to 0..100.
func (a RiskAssessment) Total() int {
	switch {
	case a.Score < 0:
		return 0
	case a.Score > MaxRiskScore:
		return MaxRiskScore
	default:
		return a.Score
	}
}

type AdmissionDecision struct {
	Allowed        bool           `json:"allowed"`
	Reason         DecisionReason `json:"reason"`
	RetryAfter     time.Duration  `json:"-"`
	RiskScore      int            `json:"risk_score"`
	Suspicious     bool           `json:"suspicious"`
	CostAlert      bool           `json:"cost_alert"`
	RemainingDaily int            `json:"remaining_daily"`
	Tags           []string       `json:"tags,omitempty"`
	AutoBlacklist  bool           `json:"-"`
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (d AdmissionDecision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

func (d AdmissionDecision) Fatal() bool {
	return d.Reason == ReasonEmergencyStop
}

func Allow(risk, remaining int) AdmissionDecision {
	return AdmissionDecision{Allowed: true, Reason: ReasonAllowed, RiskScore: risk, RemainingDaily: remaining}
}

func Refuse(reason DecisionReason, retryAfter time.Duration) AdmissionDecision {
	return AdmissionDecision{Reason: reason, RetryAfter: retryAfter}
}
