package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyakuten/llmoradar/internal/domain"
)

type stubAdmitter struct {
	decision domain.AdmissionDecision
	calls    atomic.Int64
	releases atomic.Int64
	last     *domain.AdmissionRequest
}

func (a *stubAdmitter) Check(_ context.Context, req *domain.AdmissionRequest) domain.AdmissionDecision {
	a.calls.Add(1)
	a.last = req
	return a.decision
}

func (a *stubAdmitter) Release(context.Context, *domain.AdmissionRequest) {
	a.releases.Add(1)
}

type sliceQueue struct {
	mu   sync.Mutex
	jobs []*domain.DiagnosisJob
	err  error
}

func (q *sliceQueue) Enqueue(_ context.Context, job *domain.DiagnosisJob) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *sliceQueue) Depth() int { return -1 }

type stubAnalyzer struct {
	delay time.Duration
	err   error
	panic bool
}

func (a stubAnalyzer) Analyze(ctx context.Context, url string) (*domain.SiteAnalysisResult, error) {
	if a.panic {
		panic("renderer crashed")
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			// Simulates a collaborator that ignores cancellation for a while.
			time.Sleep(20 * time.Millisecond)
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	cats := []domain.CategoryResult{
		domain.NewCategoryResult(domain.CategoryHeading, domain.SubCheck{ID: "single_h1", Score: 10, MaxScore: 10}),
	}
	return domain.NewSiteAnalysisResult(url, time.Now(), cats, nil), nil
}

type stubNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
	reports  []*domain.Report
}

func (n *stubNotifier) SendReport(_ context.Context, r *domain.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failures > 0 {
		n.failures--
		return errors.New("smtp: 421 try again later")
	}
	n.reports = append(n.reports, r)
	return nil
}

func (n *stubNotifier) Name() string { return "stub" }

type stubMetrics struct {
	mu            sync.Mutex
	outcomes      []string
	notifications []string
}

func (m *stubMetrics) RecordAdmission(domain.AdmissionDecision) {}
func (m *stubMetrics) SetQueueDepth(int)                        {}

func (m *stubMetrics) RecordAnalysis(outcome string, _ float64, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *stubMetrics) RecordNotification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, result)
}

func validRequest() domain.DiagnosisRequest {
	return domain.DiagnosisRequest{
		URL:          "https://www.example.co.jp/",
		Name:         "Sato Hanako",
		Email:        "hanako@example.co.jp",
		Company:      "Example KK",
		FormFillTime: 12000,
	}
}

type serviceFixture struct {
	svc      *DiagnosisService
	admitter *stubAdmitter
	queue    *sliceQueue
	notifier *stubNotifier
	sink     *recordingSink
	metrics  *stubMetrics
}

func newServiceFixture(cfg DiagnosisConfig, analyzer stubAnalyzer) *serviceFixture {
	f := &serviceFixture{
		admitter: &stubAdmitter{decision: domain.Allow(10, 9)},
		queue:    &sliceQueue{},
		notifier: &stubNotifier{},
		sink:     &recordingSink{},
		metrics:  &stubMetrics{},
	}
	f.svc = NewDiagnosisService(cfg, DiagnosisDeps{
		Admitter: f.admitter,
		Queue:    f.queue,
		Analyzer: analyzer,
		Notifier: f.notifier,
		Alerts:   f.sink,
		Metrics:  f.metrics,
	})
	return f
}

func fastConfig() DiagnosisConfig {
	cfg := DefaultDiagnosisConfig()
	cfg.AnalysisTimeout = 100 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestSubmitTooFastIsRejectedBeforeAdmission(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	req := validRequest()
	req.FormFillTime = 3000

	_, err := f.svc.Submit(context.Background(), req, &domain.AdmissionRequest{Origin: "10.0.0.1"})

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Has("form_fill_time", "too_fast"))
	assert.Zero(t, f.admitter.calls.Load())
	assert.Empty(t, f.queue.jobs)
}

func TestSubmitRefused(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	f.admitter.decision = domain.Refuse(domain.ReasonHourlyLimit, 30*time.Minute)

	_, err := f.svc.Submit(context.Background(), validRequest(), &domain.AdmissionRequest{Origin: "10.0.0.1"})

	ae, ok := AsAdmissionError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonHourlyLimit, ae.Decision.Reason)
	assert.Equal(t, 1800, ae.Decision.RetryAfterSeconds())
	assert.Empty(t, f.queue.jobs)
}

func TestSubmitAcceptedEnqueuesJob(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})

	sub, err := f.svc.Submit(context.Background(), validRequest(), &domain.AdmissionRequest{Origin: "10.0.0.1"})
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, sub.Job.ID, f.queue.jobs[0].ID)
	assert.Equal(t, "10.0.0.1", sub.Job.Origin)
	assert.Equal(t, 9, sub.Decision.RemainingDaily)

	// Payload is derived from the typed request when none is given.
	assert.Equal(t, "hanako@example.co.jp", f.admitter.last.Payload["email"])
}

func TestSubmitQueueFailure(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	f.queue.err = ErrQueueFull

	_, err := f.svc.Submit(context.Background(), validRequest(), nil)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
	assert.EqualValues(t, 1, f.admitter.releases.Load())
}

func TestSubmitRefusedDoesNotRelease(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	f.admitter.decision = domain.Refuse(domain.ReasonBlacklisted, 0)
	f.queue.err = ErrQueueFull

	_, err := f.svc.Submit(context.Background(), validRequest(), &domain.AdmissionRequest{Origin: "10.0.0.1"})
	_, ok := AsAdmissionError(err)
	require.True(t, ok)
	assert.Zero(t, f.admitter.releases.Load())
}

func TestSubmitQueueFailureRefundsQuota(t *testing.T) {
	c, st, _, _ := newController(testPolicy(func(p *domain.AdmissionPolicy) { p.OriginHourlyMax = 1 }))
	q := &sliceQueue{err: ErrQueueFull}
	svc := NewDiagnosisService(fastConfig(), DiagnosisDeps{
		Admitter: c,
		Queue:    q,
		Analyzer: stubAnalyzer{},
		Notifier: &stubNotifier{},
		Clock:    func() time.Time { return t0 },
	})
	ctx := context.Background()

	_, err := svc.Submit(ctx, validRequest(), &domain.AdmissionRequest{Origin: "203.0.113.20", ReceivedAt: t0})
	require.ErrorIs(t, err, ErrQueueUnavailable)

	origin, err := st.Origin(ctx, "203.0.113.20")
	require.NoError(t, err)
	assert.Zero(t, origin.HourlyCount)
	assert.Zero(t, origin.DailyCount)
	assert.Zero(t, origin.TotalCount)
	global, err := st.Global(ctx)
	require.NoError(t, err)
	assert.Zero(t, global.DailyRequests)
	assert.Zero(t, global.TotalRequests)

	q.err = nil
	sub, err := svc.Submit(ctx, validRequest(), &domain.AdmissionRequest{Origin: "203.0.113.20", ReceivedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 9, sub.Decision.RemainingDaily)
	require.Len(t, q.jobs, 1)
	c.Wait()
}

func TestProcessDeliversAnalysisResult(t *testing.T) {
	cfg := fastConfig()
	cfg.AdminRecipient = "sales@gyakuten.example"
	f := newServiceFixture(cfg, stubAnalyzer{})
	job := domain.NewDiagnosisJob(validRequest(), "10.0.0.1", time.Now())

	require.NoError(t, f.svc.Process(context.Background(), job))

	require.Len(t, f.notifier.reports, 2)
	assert.Equal(t, "hanako@example.co.jp", f.notifier.reports[0].Recipient)
	assert.False(t, f.notifier.reports[0].Internal)
	assert.Equal(t, "sales@gyakuten.example", f.notifier.reports[1].Recipient)
	assert.True(t, f.notifier.reports[1].Internal)
	assert.False(t, f.notifier.reports[0].Result.Fallback)
	assert.Equal(t, []string{"success"}, f.metrics.outcomes)
	assert.Equal(t, []string{"sent", "sent"}, f.metrics.notifications)
}

func TestProcessTimeoutDeliversFallback(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{delay: time.Second})
	job := domain.NewDiagnosisJob(validRequest(), "10.0.0.1", time.Now())

	start := time.Now()
	require.NoError(t, f.svc.Process(context.Background(), job))
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	require.Len(t, f.notifier.reports, 1)
	res := f.notifier.reports[0].Result
	assert.True(t, res.Fallback)
	assert.Equal(t, 50, res.OverallScore)
	assert.Len(t, res.Categories, len(domain.Categories))
	assert.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.FailureReason, "timed out")
	assert.Equal(t, []string{"fallback"}, f.metrics.outcomes)
	assert.Contains(t, f.sink.kinds(), domain.AlertAnalysisFailure)
}

func TestProcessAnalyzerFailures(t *testing.T) {
	for name, analyzer := range map[string]stubAnalyzer{
		"error": {err: errors.New("net::ERR_NAME_NOT_RESOLVED")},
		"panic": {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			f := newServiceFixture(fastConfig(), analyzer)
			job := domain.NewDiagnosisJob(validRequest(), "10.0.0.1", time.Now())

			require.NoError(t, f.svc.Process(context.Background(), job))
			require.Len(t, f.notifier.reports, 1)
			assert.True(t, f.notifier.reports[0].Result.Fallback)
			assert.Contains(t, f.sink.kinds(), domain.AlertAnalysisFailure)
		})
	}
}

func TestProcessRetriesNotification(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	f.notifier.failures = 2
	job := domain.NewDiagnosisJob(validRequest(), "10.0.0.1", time.Now())

	require.NoError(t, f.svc.Process(context.Background(), job))
	assert.Equal(t, 3, f.notifier.calls)
	assert.Len(t, f.notifier.reports, 1)
	assert.Equal(t, []string{"sent"}, f.metrics.notifications)
	assert.NotContains(t, f.sink.kinds(), domain.AlertNotificationFailure)
}

func TestProcessNotificationExhausted(t *testing.T) {
	f := newServiceFixture(fastConfig(), stubAnalyzer{})
	f.notifier.failures = 10
	job := domain.NewDiagnosisJob(validRequest(), "10.0.0.1", time.Now())

	require.NoError(t, f.svc.Process(context.Background(), job))
	assert.Equal(t, 3, f.notifier.calls)
	assert.Equal(t, []string{"failed"}, f.metrics.notifications)
	assert.Contains(t, f.sink.kinds(), domain.AlertNotificationFailure)
}
