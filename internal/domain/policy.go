package domain

import "time"

// Risk signal tags recorded on origins and decisions.
const (
	TagBotUserAgent          = "bot_user_agent"
	TagMissingUserAgent      = "missing_user_agent"
	TagHeadlessBrowser       = "headless_browser"
	TagMissingAcceptLanguage = "missing_accept_language"
	TagMissingAccept         = "missing_accept"
	TagSpamKeywords          = "spam_keywords"
	TagDuplicateFields       = "duplicate_fields"
	TagPlaceholderValues     = "placeholder_values"
	TagHoneypotFilled        = "honeypot_filled"
	TagHighRiskCountry       = "high_risk_country"
	TagRepeatHourly          = "repeat_hourly"
	TagRapidSuccession       = "rapid_succession"
	TagDisposableEmail       = "disposable_email"
	TagMalformedEmail        = "malformed_email"
	TagSuspiciousTLD         = "suspicious_tld"
	TagMalformedURL          = "malformed_url"
)

type RiskWeights struct {
	BotUserAgent          int `mapstructure:"bot_user_agent" json:"bot_user_agent"`
	MissingUserAgent      int `mapstructure:"missing_user_agent" json:"missing_user_agent"`
	HeadlessBrowser       int `mapstructure:"headless_browser" json:"headless_browser"`
	MissingAcceptLanguage int `mapstructure:"missing_accept_language" json:"missing_accept_language"`
	MissingAccept         int `mapstructure:"missing_accept" json:"missing_accept"`
	SpamKeywords          int `mapstructure:"spam_keywords" json:"spam_keywords"`
	DuplicateFields       int `mapstructure:"duplicate_fields" json:"duplicate_fields"`
	PlaceholderValues     int `mapstructure:"placeholder_values" json:"placeholder_values"`
	HoneypotFilled        int `mapstructure:"honeypot_filled" json:"honeypot_filled"`
	HighRiskCountry       int `mapstructure:"high_risk_country" json:"high_risk_country"`
	RepeatHourly          int `mapstructure:"repeat_hourly" json:"repeat_hourly"`
	RapidSuccession       int `mapstructure:"rapid_succession" json:"rapid_succession"`
	DisposableEmail       int `mapstructure:"disposable_email" json:"disposable_email"`
	MalformedEmail        int `mapstructure:"malformed_email" json:"malformed_email"`
	SuspiciousTLD         int `mapstructure:"suspicious_tld" json:"suspicious_tld"`
	MalformedURL          int `mapstructure:"malformed_url" json:"malformed_url"`
}

func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		BotUserAgent:          40,
		MissingUserAgent:      30,
		HeadlessBrowser:       35,
		MissingAcceptLanguage: 15,
		MissingAccept:         10,
		SpamKeywords:          25,
		DuplicateFields:       20,
		PlaceholderValues:     15,
		HoneypotFilled:        40,
		HighRiskCountry:       15,
		RepeatHourly:          10,
		RapidSuccession:       25,
		DisposableEmail:       30,
		MalformedEmail:        20,
		SuspiciousTLD:         20,
		MalformedURL:          25,
	}
}

// AdmissionPolicy holds every admission threshold.
type AdmissionPolicy struct {
	EmergencyThreshold int64         `mapstructure:"emergency_threshold" json:"emergency_threshold"`
	DailyMax           int64         `mapstructure:"daily_max" json:"daily_max"`
	OriginHourlyMax    int           `mapstructure:"origin_hourly_max" json:"origin_hourly_max"`
	OriginDailyMax     int           `mapstructure:"origin_daily_max" json:"origin_daily_max"`
	MaxViolations      int           `mapstructure:"max_violations" json:"max_violations"`
	RiskThreshold      int           `mapstructure:"risk_threshold" json:"risk_threshold"`
	CostAlertRisk      int           `mapstructure:"cost_alert_risk" json:"cost_alert_risk"`
	CostAlertRatio     float64       `mapstructure:"cost_alert_ratio" json:"cost_alert_ratio"`
	Retention          time.Duration `mapstructure:"retention" json:"retention"`
	BurstGap           time.Duration `mapstructure:"burst_gap" json:"burst_gap"`
	HighRiskCountries  []string      `mapstructure:"high_risk_countries" json:"high_risk_countries"`
	SuspiciousTLDs     []string      `mapstructure:"suspicious_tlds" json:"suspicious_tlds"`
	Weights            RiskWeights   `mapstructure:"weights" json:"weights"`
}

func DefaultAdmissionPolicy() AdmissionPolicy {
	return AdmissionPolicy{
		EmergencyThreshold: 10000,
		DailyMax:           200,
		OriginHourlyMax:    3,
		OriginDailyMax:     10,
		MaxViolations:      3,
		RiskThreshold:      70,
		CostAlertRisk:      90,
		CostAlertRatio:     0.8,
		Retention:          7 * 24 * time.Hour,
		BurstGap:           30 * time.Second,
		HighRiskCountries:  []string{"CN", "RU", "KP", "IR", "NG", "T1"},
		SuspiciousTLDs:     []string{"tk", "ml", "ga", "cf", "gq", "xyz", "top", "zip", "mov", "click", "loan", "work", "buzz", "rest"},
		Weights:            DefaultRiskWeights(),
	}
}

// PolicySource returns the policy currently in force.
type PolicySource interface {
	Policy() AdmissionPolicy
}

type StaticPolicy AdmissionPolicy

func (p StaticPolicy) Policy() AdmissionPolicy {
	return AdmissionPolicy(p)
}
