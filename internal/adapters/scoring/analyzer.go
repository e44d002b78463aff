package scoring

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
	"github.com/gyakuten/llmoradar/pkg/lru"
)

// Score evaluates every category against sig.
func Score(sig *domain.PageSignals, at time.Time) (*domain.SiteAnalysisResult, error) {
	facts, err := Extract(sig)
	if err != nil {
		return nil, err
	}
	categories := make([]domain.CategoryResult, 0, len(Scorers))
	for _, score := range Scorers {
		categories = append(categories, score(facts))
	}
	target := sig.RequestedURL
	if target == "" {
		target = sig.FinalURL
	}
	return domain.NewSiteAnalysisResult(target, at, categories, Recommend(categories)), nil
}

// Analyzer renders a page in a fresh session and scores it.
type Analyzer struct {
	renderer ports.Renderer
	now      func() time.Time
}

var _ ports.SiteAnalyzer = (*Analyzer)(nil)

func NewAnalyzer(renderer ports.Renderer) *Analyzer {
	return &Analyzer{renderer: renderer, now: time.Now}
}

func (a *Analyzer) Analyze(ctx context.Context, target string) (*domain.SiteAnalysisResult, error) {
	start := time.Now()
	sess, err := a.renderer.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s session: %w", a.renderer.Name(), err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Str("renderer", a.renderer.Name()).Msg("Failed to close render session")
		}
	}()

	sig, err := sess.Render(ctx, target)
	if err != nil {
		return nil, err
	}
	sig.RequestedURL = target

	res, err := Score(sig, a.now())
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("url", target).
		Int("score", res.OverallScore).
		Dur("elapsed", time.Since(start)).
		Bool("rendered", sig.Rendered).
		Msg("Site analysed")
	return res, nil
}

// CachingAnalyzer reuses results for the same URL within a TTL. Results are
// shared, so callers must treat them as read-only.
type CachingAnalyzer struct {
	next  ports.SiteAnalyzer
	cache *lru.Cache[string, *domain.SiteAnalysisResult]
}

var _ ports.SiteAnalyzer = (*CachingAnalyzer)(nil)

func NewCachingAnalyzer(next ports.SiteAnalyzer, size int, ttl time.Duration, clock func() time.Time) *CachingAnalyzer {
	return &CachingAnalyzer{
		next:  next,
		cache: lru.New[string, *domain.SiteAnalysisResult](size).WithTTL(ttl, clock),
	}
}

func (c *CachingAnalyzer) Analyze(ctx context.Context, target string) (*domain.SiteAnalysisResult, error) {
	key := CacheKey(target)
	if res, ok := c.cache.Get(key); ok {
		return res, nil
	}
	res, err := c.next.Analyze(ctx, target)
	if err != nil {
		return nil, err
	}
	if !res.Fallback {
		c.cache.Put(key, res)
	}
	return res, nil
}

func (c *CachingAnalyzer) Len() int { return c.cache.Len() }

// CacheKey normalises scheme and host case, and drops the fragment and a
// trailing slash.
func CacheKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
