package output

import (
	"context"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

// GlobalSource reads the admission counters for gauge functions.
type GlobalSource interface {
	Global(ctx context.Context) (domain.GlobalSecurityMetrics, error)
}

type PrometheusMetrics struct {
	admissions    *prometheus.CounterVec
	riskScores    prometheus.Histogram
	analyses      *prometheus.CounterVec
	analysisTime  prometheus.Histogram
	overallScores prometheus.Histogram
	notifications *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

var (
	_ ports.MetricsRecorder = (*PrometheusMetrics)(nil)
	_ ports.AlertSubscriber = (*PrometheusMetrics)(nil)
)

// NewPrometheusMetrics registers all collectors on reg. global may be nil.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string, global GlobalSource) *PrometheusMetrics {
	if namespace == "" {
		namespace = "llmoradar"
	}
	factory := promauto.With(reg)

	m := &PrometheusMetrics{}

	m.admissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Admission decisions by outcome and reason",
	}, []string{"allowed", "reason"})

	m.riskScores = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Composite risk score of evaluated submissions",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	m.analyses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyses_total",
		Help:      "Site analyses by outcome",
	}, []string{"outcome"})

	m.analysisTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analysis_duration_seconds",
		Help:      "Time until an analysis result was available",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	m.overallScores = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "overall_score",
		Help:      "Overall LLMO score delivered to submitters",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	m.notifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Report deliveries by result",
	}, []string{"result"})

	m.alerts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts dispatched by kind and level",
	}, []string{"kind", "level"})

	m.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Diagnosis jobs waiting for a worker",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	if global != nil {
		read := func(pick func(domain.GlobalSecurityMetrics) int64) func() float64 {
			return func() float64 {
				g, err := global.Global(context.Background())
				if err != nil {
					log.Debug().Err(err).Msg("Failed to read global counters for metrics")
					return 0
				}
				return float64(pick(g))
			}
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_lifetime",
			Help:      "Admitted requests since the counters were created",
		}, read(func(g domain.GlobalSecurityMetrics) int64 { return g.TotalRequests }))
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_today",
			Help:      "Admitted requests in the current daily window",
		}, read(func(g domain.GlobalSecurityMetrics) int64 { return g.DailyRequests }))
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_blocked",
			Help:      "Refused requests",
		}, read(func(g domain.GlobalSecurityMetrics) int64 { return g.BlockedCount }))
	}

	return m
}

func (m *PrometheusMetrics) RecordAdmission(d domain.AdmissionDecision) {
	m.admissions.WithLabelValues(strconv.FormatBool(d.Allowed), string(d.Reason)).Inc()
	if d.Allowed || d.Reason == domain.ReasonHighRisk {
		m.riskScores.Observe(float64(d.RiskScore))
	}
}

func (m *PrometheusMetrics) RecordAnalysis(outcome string, seconds float64, score int) {
	m.analyses.WithLabelValues(outcome).Inc()
	m.analysisTime.Observe(seconds)
	m.overallScores.Observe(float64(score))
}

func (m *PrometheusMetrics) RecordNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) OnAlert(alert *domain.Alert) {
	m.alerts.WithLabelValues(string(alert.Kind), string(alert.Level)).Inc()
}
