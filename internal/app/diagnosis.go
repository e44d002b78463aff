package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
	"github.com/gyakuten/llmoradar/pkg/sanitize"
)

// ErrQueueUnavailable wraps enqueue failures after a request was admitted.
var ErrQueueUnavailable = errors.New("diagnosis queue unavailable")

// AdmissionError is returned by Submit when the admission controller refuses
// the request.
type AdmissionError struct {
	Decision domain.AdmissionDecision
}

func (e *AdmissionError) Error() string {
	return "admission refused: " + string(e.Decision.Reason)
}

func AsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	ok := errors.As(err, &ae)
	return ae, ok
}

// Admitter is the part of AdmissionController the diagnosis service needs.
type Admitter interface {
	Check(ctx context.Context, req *domain.AdmissionRequest) domain.AdmissionDecision
	Release(ctx context.Context, req *domain.AdmissionRequest)
}

type DiagnosisConfig struct {
	MinFormFillTime time.Duration // Submissions filled faster are rejected (default: 5s)
	AnalysisTimeout time.Duration // Wall-clock budget per analysis (default: 30s)
	NotifyAttempts  int           // Delivery attempts per recipient (default: 3)
	RetryDelay      time.Duration // Fixed delay between attempts (default: 2s)
	AdminRecipient  string        // Internal copy of every report (optional)
}

func DefaultDiagnosisConfig() DiagnosisConfig {
	return DiagnosisConfig{
		MinFormFillTime: domain.DefaultMinFormFillTime,
		AnalysisTimeout: 30 * time.Second,
		NotifyAttempts:  3,
		RetryDelay:      2 * time.Second,
	}
}

// DiagnosisService runs the submission workflow: validate, admit and enqueue
// on the request path; analyse, fall back and notify on the job path.
type DiagnosisService struct {
	cfg      DiagnosisConfig
	admitter Admitter
	queue    ports.JobQueue
	analyzer ports.SiteAnalyzer
	notifier ports.Notifier
	alerts   ports.AlertSink
	metrics  ports.MetricsRecorder
	now      func() time.Time
}

type DiagnosisDeps struct {
	Admitter Admitter
	Queue    ports.JobQueue
	Analyzer ports.SiteAnalyzer
	Notifier ports.Notifier
	Alerts   ports.AlertSink       // optional
	Metrics  ports.MetricsRecorder // optional
	Clock    func() time.Time      // optional
}

func NewDiagnosisService(cfg DiagnosisConfig, deps DiagnosisDeps) *DiagnosisService {
	def := DefaultDiagnosisConfig()
	if cfg.MinFormFillTime < 0 {
		cfg.MinFormFillTime = 0
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = def.AnalysisTimeout
	}
	if cfg.NotifyAttempts <= 0 {
		cfg.NotifyAttempts = def.NotifyAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &DiagnosisService{
		cfg:      cfg,
		admitter: deps.Admitter,
		queue:    deps.Queue,
		analyzer: deps.Analyzer,
		notifier: deps.Notifier,
		alerts:   deps.Alerts,
		metrics:  deps.Metrics,
		now:      deps.Clock,
	}
}

// Submission is the accepted outcome of Submit.
type Submission struct {
	Job      *domain.DiagnosisJob
	Decision domain.AdmissionDecision
}

// Submit validates req, runs admission control and enqueues the job. The
// returned error is a *domain.ValidationError, an *AdmissionError or wraps
// ErrQueueUnavailable, in which case the admission quota is released. meta carries the request metadata; a nil payload is
// derived from req.
func (s *DiagnosisService) Submit(ctx context.Context, req domain.DiagnosisRequest, meta *domain.AdmissionRequest) (*Submission, error) {
	if err := req.Validate(s.cfg.MinFormFillTime); err != nil {
		return nil, err
	}

	if meta == nil {
		meta = &domain.AdmissionRequest{}
	}
	if meta.Payload == nil {
		meta.Payload = req.Payload()
	}
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = s.now()
	}

	decision := s.admitter.Check(ctx, meta)
	if !decision.Allowed {
		return nil, &AdmissionError{Decision: decision}
	}

	job := domain.NewDiagnosisJob(req, sanitize.Origin(meta.Origin), meta.ReceivedAt)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue admitted diagnosis")
		s.admitter.Release(context.WithoutCancel(ctx), meta)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("origin", job.Origin).
		Str("url", sanitize.Line(req.URL, 200)).
		Int("risk_score", decision.RiskScore).
		Int("remaining_daily", decision.RemainingDaily).
		Msg("Diagnosis accepted")

	return &Submission{Job: job, Decision: decision}, nil
}

// Process analyses the job's URL and delivers the report. It always
// returns nil: failures end in a fallback result, logs and alerts.
func (s *DiagnosisService) Process(ctx context.Context, job *domain.DiagnosisJob) error {
	start := s.now()
	result, outcome := s.analyze(ctx, job, start)

	if s.metrics != nil {
		s.metrics.RecordAnalysis(outcome, s.now().Sub(start).Seconds(), result.OverallScore)
	}
	log.Info().
		Str("job_id", job.ID).
		Str("outcome", outcome).
		Int("score", result.OverallScore).
		Dur("elapsed", s.now().Sub(start)).
		Msg("Diagnosis analysed")

	s.deliver(ctx, job, result)
	return nil
}

type analysisOutcome struct {
	result *domain.SiteAnalysisResult
	err    error
}

// analyze races the analyzer against the timeout. The losing analysis is
// abandoned; its session cleanup runs on its own goroutine.
func (s *DiagnosisService) analyze(ctx context.Context, job *domain.DiagnosisJob, start time.Time) (*domain.SiteAnalysisResult, string) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
	defer cancel()

	done := make(chan analysisOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- analysisOutcome{err: fmt.Errorf("analyzer panic: %v", r)}
			}
		}()
		res, err := s.analyzer.Analyze(actx, job.Request.URL)
		done <- analysisOutcome{result: res, err: err}
	}()

	var reason string
	select {
	case out := <-done:
		switch {
		case out.err != nil:
			reason = out.err.Error()
		case out.result == nil:
			reason = "analyzer returned no result"
		default:
			if out.result.AnalyzedAt.Before(start) {
				return out.result, "cached"
			}
			return out.result, "success"
		}
	case <-actx.Done():
		reason = fmt.Sprintf("analysis timed out after %s", s.cfg.AnalysisTimeout)
		if ctx.Err() != nil {
			reason = "analysis cancelled"
		}
	}

	log.Error().Str("job_id", job.ID).Str("reason", reason).Msg("Analysis failed, delivering fallback result")
	s.alert(domain.NewAlert(job.Origin, domain.AlertAnalysisFailure, domain.AlertLevelWarning, 0,
		"Site analysis failed, fallback result delivered").
		WithMetadata("job_id", job.ID).
		WithMetadata("url", sanitize.Line(job.Request.URL, 200)).
		WithMetadata("reason", sanitize.Line(reason, 200)))

	return domain.FallbackResult(job.Request.URL, s.now(), reason), "fallback"
}

func (s *DiagnosisService) deliver(ctx context.Context, job *domain.DiagnosisJob, result *domain.SiteAnalysisResult) {
	contact := job.Request.Contact()
	reports := []*domain.Report{{
		JobID:     job.ID,
		Recipient: job.Request.Email,
		Contact:   contact,
		Result:    result,
	}}
	if s.cfg.AdminRecipient != "" {
		reports = append(reports, &domain.Report{
			JobID:     job.ID,
			Recipient: s.cfg.AdminRecipient,
			Internal:  true,
			Contact:   contact,
			Result:    result,
		})
	}

	for _, report := range reports {
		if err := s.sendWithRetry(ctx, report); err != nil {
			s.recordNotification("failed")
			log.Error().Err(err).
				Str("job_id", job.ID).
				Bool("internal", report.Internal).
				Int("attempts", s.cfg.NotifyAttempts).
				Msg("Report delivery failed")
			s.alert(domain.NewAlert(job.Origin, domain.AlertNotificationFailure, domain.AlertLevelCritical, 0,
				"Report could not be delivered").
				WithMetadata("job_id", job.ID).
				WithMetadata("notifier", s.notifier.Name()).
				WithMetadata("internal", fmt.Sprint(report.Internal)).
				WithMetadata("error", sanitize.Line(err.Error(), 200)))
			continue
		}
		s.recordNotification("sent")
	}
}

// sendWithRetry makes up to NotifyAttempts delivery attempts with a fixed
// delay between them.
func (s *DiagnosisService) sendWithRetry(ctx context.Context, report *domain.Report) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.NotifyAttempts-1)),
		ctx,
	)
	attempt := 0
	operation := func() error {
		attempt++
		return s.notifier.SendReport(ctx, report)
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).
			Str("job_id", report.JobID).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("Report delivery attempt failed")
	}
	return backoff.RetryNotify(operation, policy, notify)
}

func (s *DiagnosisService) recordNotification(result string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(result)
	}
}

func (s *DiagnosisService) alert(a *domain.Alert) {
	if s.alerts != nil {
		s.alerts.Notify(a)
	}
}
