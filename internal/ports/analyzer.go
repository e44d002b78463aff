package ports

import (
	"context"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// Renderer opens browser sessions. Open may block on launch throttling.
//
// Implementations:
//   - ChromeRenderer: headless Chrome through chromedp
//   - HTTPRenderer: plain HTTP fetch, no script execution or paint timing
type Renderer interface {
	Open(ctx context.Context) (RenderSession, error)
	Name() string
}

// RenderSession is one open browser session. The caller owns it and MUST
// call Close on every exit path.
type RenderSession interface {
	// Render navigates to url and extracts DOM and timing signals.
	Render(ctx context.Context, url string) (*domain.PageSignals, error)

	Close() error
}

// SiteAnalyzer produces a scored SiteAnalysisResult for a URL. Errors mean
// the page could not be loaded or analysed; substituting a fallback result is
// the caller's job.
type SiteAnalyzer interface {
	Analyze(ctx context.Context, url string) (*domain.SiteAnalysisResult, error)
}
