// Package render loads target pages and extracts the raw signals the scoring
// engine works from.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

const (
	desktopWidth  = 1366
	desktopHeight = 900
	mobileWidth   = 375
	mobileHeight  = 812
)

var ErrPageStatus = errors.New("page returned an error status")

type ChromeConfig struct {
	// ExecPath overrides browser discovery. Empty means search PATH.
	ExecPath  string
	UserAgent string
	// LaunchesPerSecond throttles browser starts. Zero disables throttling.
	LaunchesPerSecond float64
	// SettleDelay is how long paint observers get to report buffered entries.
	SettleDelay time.Duration
	// AllowPrivateTargets skips the public-address check before navigation.
	AllowPrivateTargets bool
}

func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		LaunchesPerSecond: 2,
		SettleDelay:       500 * time.Millisecond,
	}
}

// ChromeRenderer launches one headless Chrome per session.
type ChromeRenderer struct {
	cfg     ChromeConfig
	limiter *rate.Limiter
}

var _ ports.Renderer = (*ChromeRenderer)(nil)

func NewChromeRenderer(cfg ChromeConfig) *ChromeRenderer {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultChromeConfig().SettleDelay
	}
	r := &ChromeRenderer{cfg: cfg}
	if cfg.LaunchesPerSecond > 0 {
		burst := int(cfg.LaunchesPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchesPerSecond), burst)
	}
	return r
}

func (r *ChromeRenderer) Name() string { return "chrome" }

func (r *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Flag("headless", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(desktopWidth, desktopHeight),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	return opts
}

// Open starts a browser. The session's lifetime is bound to ctx.
func (r *ChromeRenderer) Open(ctx context.Context) (ports.RenderSession, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for browser launch slot: %w", err)
		}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		settle:        r.cfg.SettleDelay,
		allowPrivate:  r.cfg.AllowPrivateTargets,
	}

	// An empty Run launches the browser so start-up failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	log.Debug().Str("renderer", r.Name()).Msg("Browser session opened")
	return s, nil
}

type chromeSession struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	settle        time.Duration
	allowPrivate  bool
	closeOnce     sync.Once
}

// pageTiming is decoded from timingScript. Durations are milliseconds.
type pageTiming struct {
	Load       float64 `json:"load"`
	DOMContent float64 `json:"dcl"`
	FCP        float64 `json:"fcp"`
	LCP        float64 `json:"lcp"`
	CLS        float64 `json:"cls"`
	MediaRules int     `json:"media"`
}

const timingScript = `new Promise((resolve) => {
  const out = {load: 0, dcl: 0, fcp: 0, lcp: 0, cls: 0, media: 0};
  const nav = performance.getEntriesByType('navigation')[0];
  if (nav) {
    out.load = nav.loadEventEnd > 0 ? nav.loadEventEnd : performance.now();
    out.dcl = nav.domContentLoadedEventEnd;
  }
  const paint = performance.getEntriesByName('first-contentful-paint')[0];
  if (paint) out.fcp = paint.startTime;
  let lcp = 0, cls = 0;
  try {
    new PerformanceObserver((list) => {
      for (const e of list.getEntries()) lcp = e.renderTime || e.loadTime || e.startTime;
    }).observe({type: 'largest-contentful-paint', buffered: true});
    new PerformanceObserver((list) => {
      for (const e of list.getEntries()) if (!e.hadRecentInput) cls += e.value;
    }).observe({type: 'layout-shift', buffered: true});
  } catch (e) {}
  for (const sheet of Array.from(document.styleSheets)) {
    try {
      for (const rule of Array.from(sheet.cssRules)) if (rule.type === CSSRule.MEDIA_RULE) out.media++;
    } catch (e) {}
  }
  setTimeout(() => { out.lcp = lcp; out.cls = cls; resolve(out); }, %d);
})`

const overflowScript = `[document.documentElement.scrollWidth, window.innerWidth]`

func (t pageTiming) apply(sig *domain.PageSignals) {
	sig.LoadTime = millis(t.Load)
	sig.DOMContentLoaded = millis(t.DOMContent)
	sig.FirstContentfulPaint = millis(t.FCP)
	sig.LargestContentfulPaint = millis(t.LCP)
	sig.CumulativeLayoutShift = t.CLS
	sig.MediaQueryCount = t.MediaRules
}

func millis(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (s *chromeSession) Render(ctx context.Context, url string) (*domain.PageSignals, error) {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	sig := &domain.PageSignals{RequestedURL: url, Rendered: true}

	if !s.allowPrivate {
		if err := CheckTarget(runCtx, nil, url); err != nil {
			return nil, err
		}
	}

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}
	if resp != nil {
		sig.StatusCode = int(resp.Status)
		if sig.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %d", ErrPageStatus, sig.StatusCode)
		}
	}

	var timing pageTiming
	err = chromedp.Run(runCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&sig.FinalURL),
		chromedp.OuterHTML("html", &sig.HTML, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(timingScript, s.settle.Milliseconds()), &timing, awaitPromise),
	)
	if err != nil {
		return nil, fmt.Errorf("extracting page signals: %w", err)
	}
	timing.apply(sig)

	var dims []int
	err = chromedp.Run(runCtx,
		chromedp.EmulateViewport(mobileWidth, mobileHeight, chromedp.EmulateMobile),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.Evaluate(overflowScript, &dims),
	)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("Mobile viewport probe failed")
	} else if len(dims) == 2 {
		sig.ScrollWidth, sig.ViewportWidth = dims[0], dims[1]
	}

	return sig, nil
}

// Close stops the browser. Safe to call more than once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancelBrowser()
		s.cancelAlloc()
	})
	return nil
}
