// Package app wires the admission controller, the diagnosis service and the
// background worker pool around the ports.
//
// AdmissionController decides, per inbound submission, whether expensive
// analysis work may start. DiagnosisService validates, admits and enqueues
// submissions, and processes queued jobs to a delivered report. WorkerPool
// runs jobs in-process with backpressure and a disk spool.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
	"github.com/gyakuten/llmoradar/pkg/sanitize"
)

// ErrInvalidOrigin is returned by SetBlacklist for ids that are not IP
// addresses.
var ErrInvalidOrigin = errors.New("invalid origin")

// AdmissionController evaluates the layered admission rules against a
// SecurityStore.
//
// Rule order (first failing rule wins):
//  1. global emergency stop
//  2. global daily cap
//  3. origin blacklist
//  4. origin hourly cap
//  5. origin daily cap
//  6. composite risk score
//
// Thread Safety: Check is safe for concurrent use; atomicity of the counter
// updates is delegated to SecurityStore.Transact.
type AdmissionController struct {
	policy    domain.PolicySource
	store     ports.SecurityStore
	detectors []ports.RiskDetector
	alerts    ports.AlertSink
	blacklist ports.BlacklistStore
	metrics   ports.MetricsRecorder
	now       func() time.Time

	pending sync.WaitGroup
}

type AdmissionOptions struct {
	Policy    domain.PolicySource
	Store     ports.SecurityStore
	Detectors []ports.RiskDetector
	Alerts    ports.AlertSink       // optional
	Blacklist ports.BlacklistStore  // optional, persists blacklist changes
	Metrics   ports.MetricsRecorder // optional
	Clock     func() time.Time      // optional, defaults to time.Now
}

func NewAdmissionController(opts AdmissionOptions) *AdmissionController {
	if opts.Policy == nil {
		opts.Policy = domain.StaticPolicy(domain.DefaultAdmissionPolicy())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &AdmissionController{
		policy:    opts.Policy,
		store:     opts.Store,
		detectors: opts.Detectors,
		alerts:    opts.Alerts,
		blacklist: opts.Blacklist,
		metrics:   opts.Metrics,
		now:       opts.Clock,
	}
}

// Policy returns the policy currently in force.
func (c *AdmissionController) Policy() domain.AdmissionPolicy {
	return c.policy.Policy()
}

// Check returns the admission decision for req. It never returns an error:
// malformed input only adds risk, and a failing store refuses with
// ReasonStoreUnavailable.
func (c *AdmissionController) Check(ctx context.Context, req *domain.AdmissionRequest) domain.AdmissionDecision {
	now := req.ReceivedAt
	if now.IsZero() {
		now = c.now()
	}
	originID := sanitize.Origin(req.Origin)
	policy := c.policy.Policy()
	static := c.assess(ctx, req)

	var decision domain.AdmissionDecision
	err := c.store.Transact(ctx, originID, now, func(global *domain.GlobalSecurityMetrics, origin *domain.RequestOrigin) error {
		decision = evaluate(policy, global, origin, static, now)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("origin", originID).Msg("Counter store unavailable, refusing request")
		decision = domain.Refuse(domain.ReasonStoreUnavailable, 0)
	}

	c.report(originID, decision, now)
	return decision
}

// Release refunds the quota an allowed decision for req consumed. It is used
// when the admitted job never reached the queue.
func (c *AdmissionController) Release(ctx context.Context, req *domain.AdmissionRequest) {
	admittedAt := req.ReceivedAt
	now := c.now()
	if admittedAt.IsZero() {
		admittedAt = now
	}
	if now.Before(admittedAt) {
		now = admittedAt
	}
	originID := sanitize.Origin(req.Origin)

	err := c.store.Transact(ctx, originID, now, func(global *domain.GlobalSecurityMetrics, origin *domain.RequestOrigin) error {
		global.ReleaseAdmitted(admittedAt, now)
		origin.ReleaseAdmission(admittedAt, now)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("origin", originID).Msg("Failed to release admission quota")
		return
	}
	log.Debug().Str("origin", originID).Msg("Admission quota released")
}

func (c *AdmissionController) assess(ctx context.Context, req *domain.AdmissionRequest) domain.RiskAssessment {
	var total domain.RiskAssessment
	for _, d := range c.detectors {
		a := d.Assess(ctx, req)
		if a.Score > 0 {
			log.Debug().
				Str("detector", d.Name()).
				Int("score", a.Score).
				Strs("tags", a.Tags).
				Msg("Risk signals matched")
		}
		total.Merge(a)
	}
	return total
}

// evaluate applies the rule chain to one origin. Every path mutates the
// state it observed; refusals never consume quota.
func evaluate(p domain.AdmissionPolicy, g *domain.GlobalSecurityMetrics, o *domain.RequestOrigin, static domain.RiskAssessment, now time.Time) domain.AdmissionDecision {
	g.RollDaily(now)
	o.RollWindows(now)

	previous := o.LastSeen
	o.LastSeen = now

	refuse := func(reason domain.DecisionReason, retryAfter time.Duration) domain.AdmissionDecision {
		g.BlockedCount++
		return domain.Refuse(reason, retryAfter)
	}
	violate := func(d domain.AdmissionDecision) domain.AdmissionDecision {
		o.Violations++
		if p.MaxViolations > 0 && o.Violations >= p.MaxViolations && !o.Blacklisted {
			o.Blacklisted = true
			d.AutoBlacklist = true
		}
		return d
	}

	switch {
	case g.TotalRequests >= p.EmergencyThreshold:
		return refuse(domain.ReasonEmergencyStop, 0)
	case g.DailyRequests >= p.DailyMax:
		return refuse(domain.ReasonDailyCap, g.NextDailyReset.Sub(now))
	case o.Blacklisted:
		return refuse(domain.ReasonBlacklisted, 0)
	case o.HourlyCount >= p.OriginHourlyMax:
		return violate(refuse(domain.ReasonHourlyLimit, o.HourlyReset.Sub(now)))
	case o.DailyCount >= p.OriginDailyMax:
		return violate(refuse(domain.ReasonOriginDailyLimit, o.DailyReset.Sub(now)))
	}

	risk := domain.RiskAssessment{
		Score: static.Score,
		Tags:  append([]string(nil), static.Tags...),
	}
	if o.HourlyCount >= 1 {
		risk.Add(p.Weights.RepeatHourly, domain.TagRepeatHourly)
	}
	if !previous.IsZero() && now.Sub(previous) < p.BurstGap {
		risk.Add(p.Weights.RapidSuccession, domain.TagRapidSuccession)
	}
	score := risk.Total()
	o.RiskScore = score
	o.AddPatterns(risk.Tags...)

	if score >= p.RiskThreshold {
		g.SuspiciousCount++
		d := refuse(domain.ReasonHighRisk, 0)
		d.RiskScore = score
		d.Suspicious = true
		d.CostAlert = score >= p.CostAlertRisk
		d.Tags = risk.Tags
		return d
	}

	g.RecordAdmitted()
	o.HourlyCount++
	o.DailyCount++
	o.TotalCount++
	o.Violations = 0

	d := domain.Allow(score, max(p.OriginDailyMax-o.DailyCount, 0))
	d.Tags = risk.Tags
	d.CostAlert = nearCap(g.DailyRequests, p.DailyMax, p.CostAlertRatio) ||
		nearCap(g.TotalRequests, p.EmergencyThreshold, p.CostAlertRatio)
	return d
}

func nearCap(used, limit int64, ratio float64) bool {
	if limit <= 0 || ratio <= 0 {
		return false
	}
	return float64(used) >= ratio*float64(limit)
}

// report performs the side effects of a decision. Nothing here can change
// the decision.
func (c *AdmissionController) report(originID string, d domain.AdmissionDecision, now time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAdmission(d)
	}

	if !d.Allowed {
		ev := log.Warn()
		if d.Reason == domain.ReasonStoreUnavailable {
			ev = log.Error()
		}
		ev.Str("origin", originID).
			Str("reason", string(d.Reason)).
			Int("risk_score", d.RiskScore).
			Int("retry_after", d.RetryAfterSeconds()).
			Msg("Admission refused")
	}

	switch d.Reason {
	case domain.ReasonEmergencyStop:
		c.alert(domain.NewAlert(originID, domain.AlertEmergencyStop, domain.AlertLevelCritical, d.RiskScore,
			"Lifetime request threshold reached, all submissions are refused"))
	case domain.ReasonHourlyLimit, domain.ReasonOriginDailyLimit:
		c.alert(domain.NewAlert(originID, domain.AlertRateLimit, domain.AlertLevelInfo, d.RiskScore,
			fmt.Sprintf("Origin exceeded its %s quota", strings.TrimSuffix(string(d.Reason), "_limit"))).
			WithMetadata("retry_after", fmt.Sprint(d.RetryAfterSeconds())))
	case domain.ReasonHighRisk:
		c.alert(domain.NewAlert(originID, domain.AlertHighRisk, domain.AlertLevelWarning, d.RiskScore,
			"Submission refused as high risk").
			WithMetadata("tags", strings.Join(d.Tags, ",")))
	}

	if d.AutoBlacklist {
		c.alert(domain.NewAlert(originID, domain.AlertAutoBlacklist, domain.AlertLevelCritical, d.RiskScore,
			"Origin blacklisted after repeated rate-limit violations"))
		c.persist(originID, true, domain.BlacklistEntry{Reason: string(d.Reason), Automatic: true, CreatedAt: now})
	}

	if d.CostAlert {
		c.alert(domain.NewAlert(originID, domain.AlertCost, domain.AlertLevelWarning, d.RiskScore,
			"Usage or risk is approaching the cost ceiling").
			WithMetadata("reason", string(d.Reason)))
	}
}

func (c *AdmissionController) alert(a *domain.Alert) {
	if c.alerts != nil {
		c.alerts.Notify(a)
	}
}

// persist writes a blacklist change to the BlacklistStore in the background.
func (c *AdmissionController) persist(originID string, blacklisted bool, entry domain.BlacklistEntry) {
	if c.blacklist == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		var err error
		if blacklisted {
			err = c.blacklist.Put(originID, entry)
		} else {
			err = c.blacklist.Delete(originID)
		}
		if err != nil {
			log.Error().Err(err).Str("origin", originID).Bool("blacklisted", blacklisted).
				Msg("Failed to persist blacklist change")
		}
	}()
}

// Wait blocks until background blacklist writes have finished.
func (c *AdmissionController) Wait() {
	c.pending.Wait()
}

// SetBlacklist is the manual blacklist action. Clearing an origin also
// resets its violation counter.
func (c *AdmissionController) SetBlacklist(ctx context.Context, originID string, blacklisted bool) error {
	ip := net.ParseIP(strings.TrimSpace(originID))
	if ip == nil {
		return fmt.Errorf("%w: %q", ErrInvalidOrigin, sanitize.Line(originID, 64))
	}
	originID = ip.String()

	now := c.now()
	if err := c.store.SetBlacklisted(ctx, originID, blacklisted, now); err != nil {
		return fmt.Errorf("set blacklist for %s: %w", originID, err)
	}
	c.persist(originID, blacklisted, domain.BlacklistEntry{Reason: "manual", CreatedAt: now})

	action := "removed from"
	if blacklisted {
		action = "added to"
	}
	c.alert(domain.NewAlert(originID, domain.AlertBlacklistChange, domain.AlertLevelInfo, 0,
		fmt.Sprintf("Origin manually %s the blacklist", action)))
	log.Info().Str("origin", originID).Bool("blacklisted", blacklisted).Msg("Blacklist updated")
	return nil
}

// RestoreBlacklist loads persisted blacklist entries into the store.
func (c *AdmissionController) RestoreBlacklist(ctx context.Context) (int, error) {
	if c.blacklist == nil {
		return 0, nil
	}
	entries, err := c.blacklist.All()
	if err != nil {
		return 0, fmt.Errorf("read persisted blacklist: %w", err)
	}
	now := c.now()
	restored := 0
	for id := range entries {
		if err := c.store.SetBlacklisted(ctx, id, true, now); err != nil {
			return restored, fmt.Errorf("restore blacklist entry %s: %w", id, err)
		}
		restored++
	}
	return restored, nil
}

func (c *AdmissionController) Origin(ctx context.Context, originID string) (*domain.RequestOrigin, error) {
	return c.store.Origin(ctx, sanitize.Origin(strings.TrimSpace(originID)))
}

// Snapshot returns the admin view of the global counters with derived
// utilization and health tier.
func (c *AdmissionController) Snapshot(ctx context.Context) (domain.SecuritySnapshot, error) {
	global, err := c.store.Global(ctx)
	if err != nil {
		return domain.SecuritySnapshot{}, fmt.Errorf("read global counters: %w", err)
	}
	tracked, blacklisted, err := c.store.Stats(ctx)
	if err != nil {
		return domain.SecuritySnapshot{}, fmt.Errorf("read origin stats: %w", err)
	}

	now := c.now()
	global.RollDaily(now)
	p := c.policy.Policy()

	snap := domain.SecuritySnapshot{
		GlobalSecurityMetrics: global,
		DailyMax:              p.DailyMax,
		EmergencyThreshold:    p.EmergencyThreshold,
		DailyUtilization:      percent(global.DailyRequests, p.DailyMax),
		EmergencyUtilization:  percent(global.TotalRequests, p.EmergencyThreshold),
		TrackedOrigins:        tracked,
		BlacklistedOrigins:    blacklisted,
		GeneratedAt:           now,
	}
	if wait := global.NextDailyReset.Sub(now); wait > 0 {
		snap.ResetInSeconds = int64(math.Ceil(wait.Seconds()))
	}
	snap.Health = healthTier(snap)
	return snap, nil
}

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(limit)*1000) / 10
}

func healthTier(s domain.SecuritySnapshot) domain.HealthTier {
	switch {
	case s.TotalRequests >= s.EmergencyThreshold:
		return domain.HealthEmergency
	case s.DailyRequests >= s.DailyMax, s.DailyUtilization >= 90, s.EmergencyUtilization >= 90:
		return domain.HealthCritical
	case s.DailyUtilization >= 70, s.EmergencyUtilization >= 70:
		return domain.HealthWarning
	default:
		return domain.HealthHealthy
	}
}
