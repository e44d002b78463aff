package domain

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

type AlertKind string

const (
	AlertRateLimit           AlertKind = "RATE_LIMIT"
	AlertAutoBlacklist       AlertKind = "AUTO_BLACKLIST"
	AlertHighRisk            AlertKind = "HIGH_RISK"
	AlertCost                AlertKind = "COST_ALERT"
	AlertEmergencyStop       AlertKind = "EMERGENCY_STOP"
	AlertBlacklistChange     AlertKind = "BLACKLIST_CHANGE"
	AlertAnalysisFailure     AlertKind = "ANALYSIS_FAILURE"
	AlertNotificationFailure AlertKind = "NOTIFICATION_FAILURE"
)

// Alert is a security or operational event. Origin is empty for events that
// are not tied to a caller.
type Alert struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Origin    string            `json:"origin,omitempty"`
	Kind      AlertKind         `json:"kind"`
	Level     AlertLevel        `json:"level"`
	RiskScore int               `json:"risk_score"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewAlert(origin string, kind AlertKind, level AlertLevel, riskScore int, message string) *Alert {
	return &Alert{
		ID:        generateAlertID(),
		Timestamp: time.Now().UTC(),
		Origin:    origin,
		Kind:      kind,
		Level:     level,
		RiskScore: clamp(riskScore, 0, MaxRiskScore),
		Message:   message,
		Metadata:  make(map[string]string),
	}
}

func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Alert) WithMetadata(key, value string) *Alert {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
	return a
}

// Operational reports whether the alert concerns the background pipeline
// rather than a caller.
func (a *Alert) Operational() bool {
	return a.Kind == AlertAnalysisFailure || a.Kind == AlertNotificationFailure
}

var alertCounter atomic.Uint64

func generateAlertID() string {
	var randBytes [4]byte
	if _, err := crypto_rand.Read(randBytes[:]); err != nil {
		return fmt.Sprintf("%s-%d-00000000",
			time.Now().UTC().Format("20060102150405"),
			alertCounter.Add(1))
	}
	return fmt.Sprintf("%s-%d-%08x",
		time.Now().UTC().Format("20060102150405"),
		alertCounter.Add(1),
		binary.BigEndian.Uint32(randBytes[:]))
}
