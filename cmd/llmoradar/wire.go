package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/adapters/detection"
	"github.com/gyakuten/llmoradar/internal/adapters/output"
	"github.com/gyakuten/llmoradar/internal/adapters/queue"
	"github.com/gyakuten/llmoradar/internal/adapters/render"
	"github.com/gyakuten/llmoradar/internal/adapters/scoring"
	"github.com/gyakuten/llmoradar/internal/adapters/store"
	"github.com/gyakuten/llmoradar/internal/app"
	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

// components is everything a long-running command shares.
type components struct {
	policy     *app.PolicyHolder
	store      ports.SecurityStore
	blacklist  *store.BoltBlacklist
	disposable *detection.DisposableDomains
	controller *app.AdmissionController
	dispatcher *app.AlertDispatcher
	recent     *output.MemoryAlerter
	registry   *prometheus.Registry
	metrics    *output.PrometheusMetrics
	service    *app.DiagnosisService
	rabbit     *queue.RabbitQueue

	disposablePath string
}

// build wires the admission and diagnosis stack. withAdmission is false for
// the worker, which never sees HTTP traffic.
func build(ctx context.Context, cfg *app.Config, withAdmission bool) (*components, error) {
	c := &components{
		policy:   app.NewPolicyHolder(cfg.Admission),
		registry: prometheus.NewRegistry(),
		recent:   output.NewMemoryAlerter(cfg.Alerts.Recent),
	}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	alerters, err := buildAlerters(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	c.dispatcher = app.NewAlertDispatcher(256, append([]ports.Alerter{c.recent}, alerters...)...)

	if withAdmission {
		if err := c.openStore(ctx, cfg); err != nil {
			c.close()
			return nil, err
		}
	}

	var global output.GlobalSource
	if c.store != nil {
		global = c.store
	}
	c.metrics = output.NewPrometheusMetrics(c.registry, "llmoradar", global)
	c.dispatcher.AddSubscriber(c.metrics)
	c.dispatcher.Start(ctx)

	if withAdmission {
		c.disposable = detection.NewDisposableDomains()
		c.disposablePath = cfg.Detection.DisposableDomainsFile
		c.loadDisposable(ctx)

		c.controller = app.NewAdmissionController(app.AdmissionOptions{
			Policy: c.policy,
			Store:  c.store,
			Detectors: []ports.RiskDetector{
				detection.NewClientDetector(c.policy),
				detection.NewContentDetector(c.policy),
				detection.NewGeoDetector(c.policy),
				detection.NewPayloadDetector(c.policy, c.disposable),
			},
			Alerts:    c.dispatcher,
			Blacklist: blacklistPort(c.blacklist),
			Metrics:   c.metrics,
		})
		if n, err := c.controller.RestoreBlacklist(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to restore persisted blacklist")
		} else if n > 0 {
			log.Info().Int("entries", n).Msg("Persisted blacklist restored")
		}
	}

	return c, nil
}

// newService builds the diagnosis workflow on top of q. The worker passes a
// nil queue since it only processes jobs.
func (c *components) newService(cfg *app.Config, q ports.JobQueue) *app.DiagnosisService {
	c.service = app.NewDiagnosisService(app.DiagnosisConfig{
		MinFormFillTime: cfg.Diagnosis.MinFormFillTime,
		AnalysisTimeout: cfg.Diagnosis.AnalysisTimeout,
		NotifyAttempts:  cfg.Notify.Attempts,
		RetryDelay:      cfg.Notify.RetryDelay,
		AdminRecipient:  cfg.Notify.AdminRecipient,
	}, app.DiagnosisDeps{
		Admitter: admitter(c.controller),
		Queue:    q,
		Analyzer: newAnalyzer(cfg, true),
		Notifier: newNotifier(cfg.Notify),
		Alerts:   c.dispatcher,
		Metrics:  c.metrics,
	})
	return c.service
}

// blacklistPort avoids handing a typed nil to an interface field.
func blacklistPort(b *store.BoltBlacklist) ports.BlacklistStore {
	if b == nil {
		return nil
	}
	return b
}

func admitter(c *app.AdmissionController) app.Admitter {
	if c == nil {
		return nil
	}
	return c
}

func (c *components) openStore(ctx context.Context, cfg *app.Config) error {
	switch cfg.Store.Driver {
	case "redis":
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			URL:       cfg.Store.RedisURL,
			Prefix:    cfg.Store.RedisPrefix,
			Retention: cfg.Admission.Retention,
		})
		if err != nil {
			return fmt.Errorf("open redis store: %w", err)
		}
		c.store = rs
	default:
		c.store = store.NewMemoryStore(store.MemoryConfig{
			MaxOrigins:    cfg.Store.MaxOrigins,
			Retention:     cfg.Admission.Retention,
			SweepInterval: cfg.Store.SweepInterval,
		})
	}

	if path := strings.TrimSpace(cfg.Store.BlacklistDB); path != "" {
		bl, err := store.OpenBoltBlacklist(path)
		if err != nil {
			return fmt.Errorf("open blacklist db: %w", err)
		}
		c.blacklist = bl
	}
	return nil
}

func (c *components) loadDisposable(ctx context.Context) {
	if c.disposablePath == "" {
		return
	}
	if err := c.disposable.LoadFile(ctx, c.disposablePath); err != nil {
		log.Warn().Err(err).Str("path", c.disposablePath).Msg("Failed to load disposable domain list")
		return
	}
	log.Info().Int("domains", c.disposable.Count()).Msg("Disposable domain list loaded")
}

func (c *components) reloadDisposable(ctx context.Context, cfg *app.Config) {
	c.disposablePath = cfg.Detection.DisposableDomainsFile
	c.loadDisposable(ctx)
}

func (c *components) storeProbe(ctx context.Context) error {
	_, err := c.store.Global(ctx)
	return err
}

func (c *components) metricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *components) openRabbit(cfg *app.Config) (*queue.RabbitQueue, error) {
	q, err := queue.NewRabbitQueue(queue.RabbitConfig{URL: cfg.Queue.URL, Queue: cfg.Queue.Name})
	if err != nil {
		return nil, err
	}
	c.rabbit = q
	return q, nil
}

// jobQueue is the queue the service publishes to plus its lifecycle. The
// pool receives its handler at Start, after the service exists.
type jobQueue struct {
	status output.QueueStatus
	stop   func()
}

func (c *components) startQueue(ctx context.Context, cfg *app.Config) (*jobQueue, error) {
	if cfg.Queue.Driver == "rabbitmq" {
		q, err := c.openRabbit(cfg)
		if err != nil {
			return nil, err
		}
		c.newService(cfg, q)
		return &jobQueue{status: rabbitStatus{q}, stop: func() {}}, nil
	}

	pool := app.NewWorkerPool(app.WorkerPoolConfig{
		WorkerCount:   cfg.Queue.Workers,
		BufferSize:    cfg.Queue.BufferSize,
		SubmitTimeout: cfg.Queue.SubmitTimeout,
		SpoolPath:     cfg.Queue.SpoolPath,
	}, c.metrics)
	svc := c.newService(cfg, pool)
	pool.Start(ctx, svc.Process)
	return &jobQueue{status: pool, stop: pool.Stop}, nil
}

// close releases everything in reverse order of construction.
func (c *components) close() {
	if c.controller != nil {
		c.controller.Wait()
	}
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.rabbit != nil {
		if err := c.rabbit.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close rabbitmq connection")
		}
	}
	if c.blacklist != nil {
		if err := c.blacklist.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close blacklist db")
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close counter store")
		}
	}
}

func buildAlerters(cfg app.AlertsConfig) ([]ports.Alerter, error) {
	minLevel := domain.AlertLevel(strings.ToUpper(cfg.MinLevel))
	var alerters []ports.Alerter

	if cfg.JSONPath != "" || cfg.JSONStdout {
		ja, err := output.NewJSONAlerter(output.JSONAlerterConfig{
			FilePath: cfg.JSONPath,
			Stdout:   cfg.JSONPath == "" && cfg.JSONStdout,
			MinLevel: minLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("create JSON alerter: %w", err)
		}
		alerters = append(alerters, ja)
	}
	if cfg.WebhookURL != "" {
		alerters = append(alerters, output.NewWebhookAlerter(output.WebhookConfig{
			URL:        cfg.WebhookURL,
			AuthToken:  cfg.WebhookToken,
			AuthHeader: cfg.WebhookHeader,
			MinLevel:   minLevel,
		}))
	}
	return alerters, nil
}

func newRenderer(cfg app.AnalyzerConfig) ports.Renderer {
	if cfg.Renderer == "http" {
		hc := render.DefaultHTTPConfig()
		hc.AllowPrivateTargets = cfg.AllowPrivateTargets
		if cfg.UserAgent != "" {
			hc.UserAgent = cfg.UserAgent
		}
		return render.NewHTTPRenderer(hc)
	}
	cc := render.DefaultChromeConfig()
	cc.ExecPath = cfg.ChromePath
	cc.UserAgent = cfg.UserAgent
	cc.LaunchesPerSecond = cfg.LaunchesPerSecond
	cc.AllowPrivateTargets = cfg.AllowPrivateTargets
	return render.NewChromeRenderer(cc)
}

func newAnalyzer(cfg *app.Config, cached bool) ports.SiteAnalyzer {
	base := scoring.NewAnalyzer(newRenderer(cfg.Analyzer))
	if !cached || cfg.Analyzer.CacheTTL <= 0 || cfg.Analyzer.CacheSize <= 0 {
		return base
	}
	return scoring.NewCachingAnalyzer(base, cfg.Analyzer.CacheSize, cfg.Analyzer.CacheTTL, time.Now)
}

func newNotifier(cfg app.NotifyConfig) ports.Notifier {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("notify.smtp_host is empty, reports are only logged")
		return output.LogNotifier{}
	}
	return output.NewSMTPNotifier(output.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
		FromName: cfg.FromName,
	})
}

// rabbitStatus adapts RabbitQueue to the health checker. Capacity is
// unbounded from the publisher's point of view.
type rabbitStatus struct{ q *queue.RabbitQueue }

func (r rabbitStatus) Depth() int    { return r.q.Depth() }
func (r rabbitStatus) Capacity() int { return 0 }
func (r rabbitStatus) Running() bool { return r.q.Ping() == nil }
