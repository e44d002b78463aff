// Package api exposes the diagnosis submission endpoint and the security
// admin endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/app"
	"github.com/gyakuten/llmoradar/internal/domain"
)

// Submitter accepts diagnosis requests.
type Submitter interface {
	Submit(ctx context.Context, req domain.DiagnosisRequest, meta *domain.AdmissionRequest) (*app.Submission, error)
}

// SecurityAdmin is the admin surface of the admission controller.
type SecurityAdmin interface {
	Snapshot(ctx context.Context) (domain.SecuritySnapshot, error)
	SetBlacklist(ctx context.Context, originID string, blacklisted bool) error
	Origin(ctx context.Context, originID string) (*domain.RequestOrigin, error)
}

type RecentAlerts interface {
	Latest(n int) []*domain.Alert
}

type Config struct {
	Addr           string
	AdminKey       string
	AdminHeader    string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxBodyBytes   int64
	RecentAlerts   int
}

type Options struct {
	Config    Config
	Diagnosis Submitter
	Admin     SecurityAdmin
	Alerts    RecentAlerts
	Health    http.Handler
	Metrics   http.Handler
	Clock     func() time.Time
}

type Server struct {
	cfg       Config
	router    *gin.Engine
	srv       *http.Server
	trust     *ProxyTrust
	diagnosis Submitter
	admin     SecurityAdmin
	alerts    RecentAlerts
	now       func() time.Time
}

func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg.AdminHeader == "" {
		cfg.AdminHeader = "X-Admin-Key"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.RecentAlerts <= 0 {
		cfg.RecentAlerts = 20
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	trust, invalid := NewProxyTrust(cfg.TrustedProxies)
	if len(invalid) > 0 {
		log.Warn().Strs("entries", invalid).Msg("Ignoring invalid trusted proxy entries")
	}
	if !trust.Restricted() {
		log.Warn().Msg("No trusted proxies configured, forwarding headers are accepted from every peer")
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		cfg:       cfg,
		router:    router,
		trust:     trust,
		diagnosis: opts.Diagnosis,
		admin:     opts.Admin,
		alerts:    opts.Alerts,
		now:       opts.Clock,
	}
	s.setupRoutes(opts.Health, opts.Metrics)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes(health, metrics http.Handler) {
	s.router.POST("/api/llmo-diagnosis", s.limitBody(), s.handleDiagnosis)

	admin := s.router.Group("/api/admin/security", requireAdminKey(s.cfg.AdminHeader, s.cfg.AdminKey))
	admin.GET("/metrics", s.handleSecurityMetrics)
	admin.POST("/manage", s.limitBody(), s.handleManage)
	admin.GET("/origins/:ip", s.handleOrigin)

	if health != nil {
		s.router.GET("/healthz", gin.WrapH(health))
	}
	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Run blocks until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Info()
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("origin", c.GetString(originKey)).
			Msg("HTTP request")
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		c.Next()
	}
}
