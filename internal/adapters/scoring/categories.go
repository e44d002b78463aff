package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gyakuten/llmoradar/internal/domain"
)

// CategoryScorer scores one category from extracted facts.
type CategoryScorer func(f *PageFacts) domain.CategoryResult

// Scorers is evaluated in report order.
var Scorers = []CategoryScorer{
	ScoreHeadings,
	ScoreTechnicalSEO,
	ScorePerformance,
	ScoreContent,
	ScoreMobile,
	ScoreStructuredData,
}

func ScoreHeadings(f *PageFacts) domain.CategoryResult {
	single := domain.SubCheck{ID: "single_h1", MaxScore: 10, Detail: fmt.Sprintf("%d h1 element(s)", f.H1Count)}
	switch {
	case f.H1Count == 1:
		single.Score = 10
	case f.H1Count > 1:
		single.Score = 5
	}

	hierarchy := domain.SubCheck{ID: "heading_hierarchy", MaxScore: 10}
	if len(f.Headings) > 0 {
		score, skips := 10, 0
		if f.Headings[0] != 1 {
			score -= 3
		}
		for i := 1; i < len(f.Headings); i++ {
			if f.Headings[i] > f.Headings[i-1]+1 {
				skips++
			}
		}
		score -= 3 * skips
		if score < 2 {
			score = 2
		}
		hierarchy.Score = score
		hierarchy.Detail = fmt.Sprintf("%d headings, %d skipped level(s)", len(f.Headings), skips)
	} else {
		hierarchy.Detail = "no headings"
	}

	return domain.NewCategoryResult(domain.CategoryHeading, single, hierarchy)
}

func lengthBand(s string, lo, hi, full int) int {
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		return 0
	case n >= lo && n <= hi:
		return full
	default:
		return full / 2
	}
}

func ScoreTechnicalSEO(f *PageFacts) domain.CategoryResult {
	title := domain.SubCheck{
		ID:       "title",
		MaxScore: 6,
		Score:    lengthBand(f.Title, 30, 60, 6),
		Detail:   fmt.Sprintf("%d characters", utf8.RuneCountInString(f.Title)),
	}
	desc := domain.SubCheck{
		ID:       "meta_description",
		MaxScore: 6,
		Score:    lengthBand(f.MetaDescription, 70, 160, 6),
		Detail:   fmt.Sprintf("%d characters", utf8.RuneCountInString(f.MetaDescription)),
	}

	canonical := domain.SubCheck{ID: "canonical", MaxScore: 4}
	if f.Canonical {
		canonical.Score = 4
	}

	og := domain.SubCheck{ID: "open_graph", MaxScore: 5, Detail: fmt.Sprintf("%d of %d tags", f.OpenGraph, len(openGraphProps))}
	switch f.OpenGraph {
	case 4:
		og.Score = 5
	case 3:
		og.Score = 4
	case 2:
		og.Score = 3
	case 1:
		og.Score = 1
	}

	links := domain.SubCheck{ID: "links", MaxScore: 4, Detail: fmt.Sprintf("%d internal, %d external", f.InternalLinks, f.ExternalLinks)}
	switch {
	case f.InternalLinks >= 3:
		links.Score += 2
	case f.InternalLinks >= 1:
		links.Score++
	}
	if f.ExternalLinks >= 1 {
		links.Score += 2
	}

	return domain.NewCategoryResult(domain.CategoryTechnicalSEO, title, desc, canonical, og, links)
}

var loadTimeSteps = []struct {
	limit time.Duration
	score int
}{
	{time.Second, 10},
	{2 * time.Second, 8},
	{3 * time.Second, 6},
	{5 * time.Second, 4},
	{8 * time.Second, 2},
}

func loadTimeScore(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	for _, step := range loadTimeSteps {
		if d <= step.limit {
			return step.score
		}
	}
	return 1
}

// metricScore maps a lower-is-better metric onto 0..100: full marks up to
// good, linear to 50 at poor, linear to 0 at twice poor.
func metricScore(v, good, poor float64) float64 {
	switch {
	case v <= good:
		return 100
	case v <= poor:
		return 100 - 50*(v-good)/(poor-good)
	case v <= 2*poor:
		return 50 - 50*(v-poor)/poor
	default:
		return 0
	}
}

// CompositePerformance averages FCP, LCP and CLS scores. Paint timings of zero
// were not measured and score 0. CLS is only meaningful for rendered pages.
func CompositePerformance(sig *domain.PageSignals) float64 {
	var fcp, lcp, cls float64
	if sig.FirstContentfulPaint > 0 {
		fcp = metricScore(sig.FirstContentfulPaint.Seconds(), 1.8, 3)
	}
	if sig.LargestContentfulPaint > 0 {
		lcp = metricScore(sig.LargestContentfulPaint.Seconds(), 2.5, 4)
	}
	if sig.Rendered {
		cls = metricScore(sig.CumulativeLayoutShift, 0.1, 0.25)
	}
	return (fcp + lcp + cls) / 3
}

func ScorePerformance(f *PageFacts) domain.CategoryResult {
	sig := f.Signals
	load := domain.SubCheck{ID: "load_time", MaxScore: 10, Score: loadTimeScore(sig.LoadTime)}
	if sig.LoadTime > 0 {
		load.Detail = sig.LoadTime.Round(time.Millisecond).String()
	} else {
		load.Detail = "not measured"
	}

	composite := CompositePerformance(sig)
	perf := domain.SubCheck{
		ID:       "performance_score",
		MaxScore: 10,
		Score:    int(math.Round(composite / 10)),
		Detail:   fmt.Sprintf("composite %.0f/100", composite),
	}
	return domain.NewCategoryResult(domain.CategoryPerformance, load, perf)
}

func ScoreContent(f *PageFacts) domain.CategoryResult {
	words := domain.SubCheck{ID: "word_count", MaxScore: 8, Detail: fmt.Sprintf("%d words", f.WordCount)}
	switch {
	case f.WordCount >= 1000:
		words.Score = 8
	case f.WordCount >= 600:
		words.Score = 6
	case f.WordCount >= 300:
		words.Score = 4
	case f.WordCount > 0:
		words.Score = 2
	}

	alt := domain.SubCheck{ID: "alt_coverage", MaxScore: 5}
	if f.Images == 0 {
		alt.Score = 3
		alt.Detail = "no images"
	} else {
		alt.Score = int(math.Round(5 * float64(f.ImagesWithAlt) / float64(f.Images)))
		alt.Detail = fmt.Sprintf("%d of %d images described", f.ImagesWithAlt, f.Images)
	}

	ratio := domain.SubCheck{ID: "text_image_ratio", MaxScore: 3}
	switch {
	case f.WordCount == 0:
	case f.Images == 0:
		ratio.Score = 2
	default:
		per := float64(f.WordCount) / float64(f.Images)
		ratio.Detail = fmt.Sprintf("%.0f words per image", per)
		if per >= 50 && per <= 500 {
			ratio.Score = 3
		} else {
			ratio.Score = 1
		}
	}

	read := domain.SubCheck{ID: "readability", MaxScore: 4}
	if f.WordCount > 0 {
		sentences := f.Sentences
		if sentences < 1 {
			sentences = 1
		}
		avg := float64(f.WordCount) / float64(sentences)
		read.Detail = fmt.Sprintf("%.1f words per sentence", avg)
		switch {
		case avg >= 8 && avg <= 25:
			read.Score = 4
		case avg >= 5 && avg <= 35:
			read.Score = 2
		default:
			read.Score = 1
		}
	}

	return domain.NewCategoryResult(domain.CategoryContent, words, alt, ratio, read)
}

func ScoreMobile(f *PageFacts) domain.CategoryResult {
	viewport := domain.SubCheck{ID: "viewport", MaxScore: 6, Detail: f.Viewport}
	switch {
	case f.Viewport == "":
		viewport.Detail = "missing"
	case strings.Contains(f.Viewport, "device-width"):
		viewport.Score = 6
	default:
		viewport.Score = 3
	}

	responsive := domain.SubCheck{ID: "responsive", MaxScore: 4, Score: 4}
	if f.FixedWidth {
		responsive.Score -= 2
	}
	if f.Signals.HorizontalOverflow() {
		responsive.Score -= 2
	}
	if f.Signals.MediaQueryCount == 0 {
		responsive.Score--
	}
	responsive.Detail = fmt.Sprintf("%d media rule(s)", f.Signals.MediaQueryCount)

	return domain.NewCategoryResult(domain.CategoryMobile, viewport, responsive)
}

func ScoreStructuredData(f *PageFacts) domain.CategoryResult {
	types := domain.SubCheck{ID: "schema_types", MaxScore: 5}
	switch n := len(f.SchemaTypes); {
	case n >= 3:
		types.Score = 5
	case n == 2:
		types.Score = 4
	case n == 1:
		types.Score = 3
	case f.HasJSONLD:
		types.Score = 1
	}
	if len(f.SchemaTypes) > 0 {
		types.Detail = fmt.Sprint(f.SchemaTypes)
	}
	return domain.NewCategoryResult(domain.CategoryStructuredData, types)
}
