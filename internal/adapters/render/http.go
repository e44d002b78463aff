package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

const maxPageBytes = 5 << 20

type HTTPConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
	// AllowPrivateTargets permits loopback and private addresses.
	AllowPrivateTargets bool
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:      20 * time.Second,
		UserAgent:    "Mozilla/5.0 (compatible; LLMORadar/1.0)",
		MaxRedirects: 5,
	}
}

// HTTPRenderer fetches the raw document without executing scripts, so paint
// timing and overflow signals stay unmeasured.
type HTTPRenderer struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ ports.Renderer = (*HTTPRenderer)(nil)

func NewHTTPRenderer(cfg HTTPConfig) *HTTPRenderer {
	def := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	limit := cfg.MaxRedirects

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivateTargets {
		dialer.Control = dialControl
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &HTTPRenderer{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= limit {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
	}
}

func (r *HTTPRenderer) Name() string { return "http" }

func (r *HTTPRenderer) Open(context.Context) (ports.RenderSession, error) {
	return &httpSession{r: r}, nil
}

type httpSession struct{ r *HTTPRenderer }

func (s *httpSession) Render(ctx context.Context, url string) (*domain.PageSignals, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", s.r.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	start := time.Now()
	resp, err := s.r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %d", ErrPageStatus, resp.StatusCode)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	elapsed := time.Since(start)

	html := string(body)
	return &domain.PageSignals{
		RequestedURL:    url,
		FinalURL:        resp.Request.URL.String(),
		StatusCode:      resp.StatusCode,
		HTML:            html,
		LoadTime:        elapsed,
		MediaQueryCount: strings.Count(strings.ToLower(html), "@media"),
	}, nil
}

func (s *httpSession) Close() error { return nil }
