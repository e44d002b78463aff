package scoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyakuten/llmoradar/internal/adapters/render"
	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var at = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const minimalDoc = `<html><body><p>Hello world this is a page.</p></body></html>`

func optimisedDoc() string {
	var b strings.Builder
	b.WriteString(`<!doctype html><html lang="ja"><head>
<title>GYAKUTEN LLMO consulting for modern B2B websites</title>
<meta name="description" content="We help Japanese companies get cited by generative search engines with structured and trustworthy content.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="canonical" href="https://www.example.co.jp/">
<meta property="og:title" content="GYAKUTEN">
<meta property="og:description" content="LLMO consulting">
<meta property="og:image" content="https://www.example.co.jp/og.png">
<meta property="og:type" content="website">
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Organization","name":"GYAKUTEN"},{"@type":"FAQPage"},{"@type":["Article"]}]}</script>
</head><body>
<h1>Welcome</h1><h2>Services</h2><h3>Audits</h3><h2>Contact</h2>
<nav><a href="/about">About</a> <a href="/services">Services</a> <a href="https://www.example.co.jp/contact">Contact</a> <a href="https://schema.org">Schema</a></nav>
<img src="a.png" alt="Team photo at the Tokyo office">
<img src="b.png" alt="Workshop with a client">
<img src="c.png" alt="Dashboard showing citation growth">
<p>`)
	b.WriteString(strings.Repeat("This sentence has exactly ten words in it for testing. ", 110))
	b.WriteString(`</p></body></html>`)
	return b.String()
}

func categoryScores(res *domain.SiteAnalysisResult) map[domain.Category]int {
	out := make(map[domain.Category]int)
	for _, c := range res.Categories {
		out[c.Category] = c.Score
	}
	return out
}

func TestScoreMinimalDocumentFloor(t *testing.T) {
	sig := &domain.PageSignals{RequestedURL: "http://127.0.0.1/", HTML: minimalDoc, LoadTime: 100 * time.Millisecond}

	res, err := Score(sig, at)
	require.NoError(t, err)

	scores := categoryScores(res)
	assert.Equal(t, 0, scores[domain.CategoryHeading])
	assert.Equal(t, 0, scores[domain.CategoryTechnicalSEO])
	assert.Equal(t, 10, scores[domain.CategoryPerformance])
	assert.LessOrEqual(t, scores[domain.CategoryContent], 11)
	assert.LessOrEqual(t, scores[domain.CategoryMobile], 3)
	assert.Equal(t, 0, scores[domain.CategoryStructuredData])
	assert.Equal(t, 22, res.OverallScore)
	assert.LessOrEqual(t, res.OverallScore, 35)
	assert.Equal(t, at, res.AnalyzedAt)

	for _, id := range []string{"title", "single_h1", "heading_hierarchy", "meta_description", "viewport", "canonical", "open_graph", "schema_types"} {
		assert.Contains(t, res.Recommendations, recommendationText[id], "missing recommendation for %s", id)
	}
	assert.NotContains(t, res.Recommendations, recommendationText["load_time"])
}

func TestRecommendOrderingTiesAcrossCategories(t *testing.T) {
	cats := []domain.CategoryResult{
		domain.NewCategoryResult(domain.CategoryTechnicalSEO,
			domain.SubCheck{ID: "title", Score: 3, MaxScore: 6},            // 0.50
			domain.SubCheck{ID: "meta_description", Score: 0, MaxScore: 6}, // 0.00
			domain.SubCheck{ID: "canonical", Score: 4, MaxScore: 4},        // passes
		),
		domain.NewCategoryResult(domain.CategoryHeading,
			domain.SubCheck{ID: "single_h1", Score: 5, MaxScore: 10},         // 0.50, larger max
			domain.SubCheck{ID: "heading_hierarchy", Score: 0, MaxScore: 10}, // 0.00, larger max
		),
		domain.NewCategoryResult(domain.CategoryMobile,
			domain.SubCheck{ID: "viewport", Score: 3, MaxScore: 6},      // 0.50
			domain.SubCheck{ID: "responsive", Score: 5, MaxScore: 8},    // 0.625 passes
			domain.SubCheck{ID: "unknown_check", Score: 0, MaxScore: 4}, // no text
		),
	}

	got := Recommend(cats)
	want := []string{
		recommendationText["heading_hierarchy"],
		recommendationText["meta_description"],
		recommendationText["single_h1"],
		recommendationText["title"],
		recommendationText["viewport"],
	}
	assert.Equal(t, want, got)
}

func TestScoreOptimisedDocument(t *testing.T) {
	sig := &domain.PageSignals{
		RequestedURL:           "https://www.example.co.jp/",
		FinalURL:               "https://www.example.co.jp/",
		HTML:                   optimisedDoc(),
		Rendered:               true,
		LoadTime:               800 * time.Millisecond,
		FirstContentfulPaint:   time.Second,
		LargestContentfulPaint: 2 * time.Second,
		CumulativeLayoutShift:  0.05,
		MediaQueryCount:        3,
		ScrollWidth:            375,
		ViewportWidth:          375,
	}

	res, err := Score(sig, at)
	require.NoError(t, err)

	assert.Equal(t, map[domain.Category]int{
		domain.CategoryHeading:        20,
		domain.CategoryTechnicalSEO:   25,
		domain.CategoryPerformance:    20,
		domain.CategoryContent:        20,
		domain.CategoryMobile:         10,
		domain.CategoryStructuredData: 5,
	}, categoryScores(res))
	assert.Equal(t, 100, res.OverallScore)
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, "A", res.Grade())
}

func TestOverallIsSumOfCategories(t *testing.T) {
	for _, html := range []string{minimalDoc, optimisedDoc(), "", "<h2>x</h2><img src=x.png>"} {
		res, err := Score(&domain.PageSignals{HTML: html, LoadTime: 4 * time.Second}, at)
		require.NoError(t, err)
		sum := 0
		for _, c := range res.Categories {
			assert.LessOrEqual(t, c.Score, c.MaxScore)
			sum += c.Score
		}
		assert.Equal(t, sum, res.OverallScore)
		assert.Len(t, res.Categories, len(domain.Categories))
	}
}

func TestScoreHeadings(t *testing.T) {
	tests := []struct {
		name     string
		levels   []int
		expected int
	}{
		{"none", nil, 0},
		{"ordered", []int{1, 2, 3, 2}, 20},
		{"two h1", []int{1, 1, 2}, 15},
		{"starts at h2 and skips", []int{2, 4}, 4},
		{"many skips floor", []int{1, 3, 1, 3, 1, 4, 6}, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &PageFacts{Headings: tc.levels}
			for _, l := range tc.levels {
				if l == 1 {
					f.H1Count++
				}
			}
			assert.Equal(t, tc.expected, ScoreHeadings(f).Score)
		})
	}
}

func TestScoreTechnicalSEOPartialCredit(t *testing.T) {
	absent := ScoreTechnicalSEO(&PageFacts{})
	partial := ScoreTechnicalSEO(&PageFacts{Title: "Short", MetaDescription: "Too short", OpenGraph: 1, InternalLinks: 1})
	full := ScoreTechnicalSEO(&PageFacts{
		Title:           strings.Repeat("t", 45),
		MetaDescription: strings.Repeat("d", 120),
		Canonical:       true,
		OpenGraph:       4,
		InternalLinks:   5,
		ExternalLinks:   1,
	})

	assert.Equal(t, 0, absent.Score)
	assert.Equal(t, 3+3+1+1, partial.Score)
	assert.Equal(t, 25, full.Score)
}

func TestMetricScore(t *testing.T) {
	tests := []struct {
		v        float64
		expected float64
	}{
		{1.0, 100},
		{1.8, 100},
		{2.4, 75},
		{3.0, 50},
		{4.5, 25},
		{6.0, 0},
		{9.0, 0},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.expected, metricScore(tc.v, 1.8, 3), 1e-9, "v=%v", tc.v)
	}
}

func TestLoadTimeScore(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected int
	}{
		{0, 0},
		{900 * time.Millisecond, 10},
		{2 * time.Second, 8},
		{2500 * time.Millisecond, 6},
		{5 * time.Second, 4},
		{7 * time.Second, 2},
		{12 * time.Second, 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, loadTimeScore(tc.d), "d=%v", tc.d)
	}
}

func TestCompositeIgnoresCLSForUnrenderedPages(t *testing.T) {
	assert.Zero(t, CompositePerformance(&domain.PageSignals{}))
	assert.InDelta(t, 100.0/3, CompositePerformance(&domain.PageSignals{Rendered: true}), 1e-9)
}

func TestMobileResponsiveness(t *testing.T) {
	html := `<html><head><meta name="viewport" content="width=1024"></head>
<body><div style="margin:0 auto; width: 980px">Fixed layout</div></body></html>`
	sig := &domain.PageSignals{HTML: html, ScrollWidth: 980, ViewportWidth: 375}

	f, err := Extract(sig)
	require.NoError(t, err)
	assert.True(t, f.FixedWidth)

	res := ScoreMobile(f)
	assert.Equal(t, 3, res.Checks[0].Score, "non device-width viewport")
	assert.Equal(t, 0, res.Checks[1].Score)
	assert.Equal(t, 3, res.Score)
}

func TestExtractStructuredDataAndLinks(t *testing.T) {
	html := `<html><body>
<div itemscope itemtype="https://schema.org/HowTo"><span>Step</span></div>
<script type="application/ld+json">{"@type":"WebSite"}</script>
<a href="#top">top</a><a href="mailto:a@b.jp">mail</a><a href="tel:0312345678">tel</a>
<a href="/x">x</a><a href="https://example.co.jp/y">y</a><a href="https://other.example/">z</a>
<img src="photo.jpg" alt="photo.jpg"><img src="x.png" alt="  "><img src="y.png" alt="Founder speaking at a conference">
</body></html>`
	f, err := Extract(&domain.PageSignals{HTML: html, FinalURL: "https://www.example.co.jp/"})
	require.NoError(t, err)

	assert.Equal(t, []string{"HowTo"}, f.SchemaTypes)
	assert.True(t, f.HasJSONLD)
	assert.Equal(t, 2, f.InternalLinks)
	assert.Equal(t, 1, f.ExternalLinks)
	assert.Equal(t, 3, f.Images)
	assert.Equal(t, 1, f.ImagesWithAlt)
	assert.Equal(t, 3, ScoreStructuredData(f).Score)

	unrecognised, err := Extract(&domain.PageSignals{HTML: `<script type="application/ld+json">{"@type":"WebSite"}</script>`})
	require.NoError(t, err)
	assert.Equal(t, 1, ScoreStructuredData(unrecognised).Score)
}

func TestCountWordsAndSentences(t *testing.T) {
	assert.Equal(t, 4, countWords("日本語のテキスト"))
	assert.Equal(t, 2, countWords("hello 世界"))
	assert.Equal(t, 3, countWords("  one two\nthree -- "))
	assert.Equal(t, 3, countSentences("One. Two! 三。"))
	assert.Equal(t, 1, countSentences("no terminator"))
	assert.Zero(t, countSentences("... !!"))
}

func TestRecommendOrdering(t *testing.T) {
	cats := []domain.CategoryResult{
		domain.NewCategoryResult(domain.CategoryContent,
			domain.SubCheck{ID: "readability", Score: 2, MaxScore: 4},
			domain.SubCheck{ID: "word_count", Score: 6, MaxScore: 8},
		),
		domain.NewCategoryResult(domain.CategoryTechnicalSEO,
			domain.SubCheck{ID: "canonical", Score: 0, MaxScore: 4},
			domain.SubCheck{ID: "title", Score: 0, MaxScore: 6},
		),
		domain.NewCategoryResult(domain.CategoryMobile,
			domain.SubCheck{ID: "viewport", Score: 6, MaxScore: 6},
			domain.SubCheck{ID: "provisional", Score: 0, MaxScore: 4},
		),
	}

	recs := Recommend(cats)
	require.Len(t, recs, 3)
	assert.Equal(t, recommendationText["title"], recs[0])
	assert.Equal(t, recommendationText["canonical"], recs[1])
	assert.Equal(t, recommendationText["readability"], recs[2])
}

func TestEverySubCheckHasRecommendation(t *testing.T) {
	res, err := Score(&domain.PageSignals{}, at)
	require.NoError(t, err)
	for _, c := range res.Categories {
		for _, chk := range c.Checks {
			assert.Contains(t, recommendationText, chk.ID)
		}
	}
}

type fakeSession struct {
	sig    *domain.PageSignals
	err    error
	closed *atomic.Int32
}

func (s fakeSession) Render(context.Context, string) (*domain.PageSignals, error) {
	return s.sig, s.err
}

func (s fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeRenderer struct {
	session fakeSession
	openErr error
}

func (r fakeRenderer) Open(context.Context) (ports.RenderSession, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.session, nil
}

func (r fakeRenderer) Name() string { return "fake" }

func TestAnalyzerClosesSessionOnEveryPath(t *testing.T) {
	var closed atomic.Int32

	ok := NewAnalyzer(fakeRenderer{session: fakeSession{sig: &domain.PageSignals{HTML: minimalDoc}, closed: &closed}})
	res, err := ok.Analyze(context.Background(), "https://example.co.jp/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.co.jp/", res.URL)

	failing := NewAnalyzer(fakeRenderer{session: fakeSession{err: errors.New("net::ERR_CONNECTION_REFUSED"), closed: &closed}})
	_, err = failing.Analyze(context.Background(), "https://example.co.jp/")
	assert.Error(t, err)

	assert.Equal(t, int32(2), closed.Load())

	_, err = NewAnalyzer(fakeRenderer{openErr: errors.New("no chrome")}).Analyze(context.Background(), "https://example.co.jp/")
	assert.ErrorContains(t, err, "opening fake session")
}

func TestAnalyzerWithLocalPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(minimalDoc))
	}))
	defer srv.Close()

	res, err := NewAnalyzer(render.NewHTTPRenderer(render.HTTPConfig{AllowPrivateTargets: true})).Analyze(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.OverallScore, 35)
	assert.False(t, res.Fallback)
}

type countingAnalyzer struct {
	calls    atomic.Int32
	fallback bool
}

func (a *countingAnalyzer) Analyze(_ context.Context, url string) (*domain.SiteAnalysisResult, error) {
	a.calls.Add(1)
	if a.fallback {
		return domain.FallbackResult(url, at, "timeout"), nil
	}
	return domain.NewSiteAnalysisResult(url, at, nil, nil), nil
}

func TestCachingAnalyzer(t *testing.T) {
	now := at
	clock := func() time.Time { return now }
	next := &countingAnalyzer{}
	c := NewCachingAnalyzer(next, 8, 10*time.Minute, clock)

	_, err := c.Analyze(context.Background(), "https://Example.co.jp/")
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), "https://example.co.jp#pricing")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())

	now = now.Add(11 * time.Minute)
	_, err = c.Analyze(context.Background(), "https://example.co.jp/")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingAnalyzerSkipsFallbacks(t *testing.T) {
	next := &countingAnalyzer{fallback: true}
	c := NewCachingAnalyzer(next, 8, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), "https://example.co.jp/")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Zero(t, c.Len())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "https://example.co.jp", CacheKey("HTTPS://EXAMPLE.co.jp/"))
	assert.Equal(t, "https://example.co.jp/a?x=1", CacheKey("https://example.co.jp/a/?x=1#top"))
	assert.Equal(t, "not a url", CacheKey("not a url"))
}
